package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/relaychat/internal/chat"
)

// DefaultShardSize bounds how many messages go into one blob.
const DefaultShardSize = 500

// Objects is the subset of Client the store needs.
type Objects interface {
	Get(ctx context.Context, path string) (*Object, error)
	CompareAndSwap(ctx context.Context, path string, expected Revision, content []byte) (Revision, error)
	Put(ctx context.Context, path string, content []byte) (Revision, error)
}

// Store keeps the message history as encrypted shards
// {dataPath}/messages_NNNN.json.enc. The remote never sees plaintext.
type Store struct {
	objects   Objects
	cipher    *Cipher
	dataPath  string
	shardSize int
	logger    zerolog.Logger

	appendMu sync.Mutex

	mu sync.Mutex
	// last is the highest shard index known to exist, -1 before discovery.
	last int
}

// NewStore creates a store on top of objects. shardSize <= 0 selects
// DefaultShardSize.
func NewStore(objects Objects, cipher *Cipher, dataPath string, shardSize int, logger zerolog.Logger) *Store {
	if shardSize <= 0 {
		shardSize = DefaultShardSize
	}
	if dataPath == "" {
		dataPath = "data"
	}
	return &Store{
		objects:   objects,
		cipher:    cipher,
		dataPath:  dataPath,
		shardSize: shardSize,
		logger:    logger.With().Str("component", "remotestore").Logger(),
		last:      -1,
	}
}

// ShardPath returns the object path for shard index.
func (s *Store) ShardPath(index int) string {
	return path.Join(s.dataPath, fmt.Sprintf("messages_%04d.json.enc", index))
}

type shard struct {
	messages []chat.Message
	revision Revision
	exists   bool
}

func (s *Store) fetch(ctx context.Context, index int) (shard, error) {
	obj, err := s.objects.Get(ctx, s.ShardPath(index))
	if err != nil {
		return shard{}, err
	}
	if obj == nil {
		return shard{messages: []chat.Message{}}, nil
	}

	plain, err := s.cipher.Decrypt(string(obj.Content))
	if err != nil {
		return shard{}, fmt.Errorf("shard %d: %w", index, err)
	}
	var msgs []chat.Message
	if err := json.Unmarshal(plain, &msgs); err != nil {
		return shard{}, fmt.Errorf("shard %d: %w: %v", index, ErrDecryption, err)
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return shard{messages: msgs, revision: obj.Revision, exists: true}, nil
}

func (s *Store) seal(msgs []chat.Message) ([]byte, error) {
	if msgs == nil {
		msgs = []chat.Message{}
	}
	plain, err := json.Marshal(msgs)
	if err != nil {
		return nil, err
	}
	enc, err := s.cipher.Encrypt(plain)
	if err != nil {
		return nil, err
	}
	return []byte(enc), nil
}

// LoadMessages returns the messages in shard index. A shard that does not
// exist is empty; one that cannot be decrypted fails with ErrDecryption.
func (s *Store) LoadMessages(ctx context.Context, index int) ([]chat.Message, error) {
	sh, err := s.fetch(ctx, index)
	if err != nil {
		return nil, err
	}
	return sh.messages, nil
}

// SaveMessages encrypts msgs and writes them as shard index over whatever
// revision is current.
func (s *Store) SaveMessages(ctx context.Context, index int, msgs []chat.Message) error {
	content, err := s.seal(msgs)
	if err != nil {
		return err
	}
	if _, err := s.objects.Put(ctx, s.ShardPath(index), content); err != nil {
		return err
	}

	s.observe(index)
	return nil
}

func (s *Store) observe(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index > s.last {
		s.last = index
	}
}

// ListMessages concatenates shards from 0 until the first missing one.
func (s *Store) ListMessages(ctx context.Context) ([]chat.Message, error) {
	all := []chat.Message{}
	for i := 0; ; i++ {
		sh, err := s.fetch(ctx, i)
		if err != nil {
			return nil, err
		}
		if !sh.exists {
			s.mu.Lock()
			s.last = i - 1
			s.mu.Unlock()
			return all, nil
		}
		all = append(all, sh.messages...)
	}
}

// lastShard finds the highest existing shard index, probing forward from
// the cached value. It returns -1 when no shard exists.
func (s *Store) lastShard(ctx context.Context) (int, error) {
	s.mu.Lock()
	start := s.last
	s.mu.Unlock()
	if start < 0 {
		start = 0
	}

	last := start - 1
	for i := start; ; i++ {
		obj, err := s.objects.Get(ctx, s.ShardPath(i))
		if err != nil {
			return 0, err
		}
		if obj == nil {
			break
		}
		last = i
	}
	return last, nil
}

// AppendMessage adds msg to the newest shard, opening a new shard once the
// newest is full. The write is checked against the revision that was read;
// a concurrent writer makes it fail with ErrConflict instead of losing data.
func (s *Store) AppendMessage(ctx context.Context, msg chat.Message) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	last, err := s.lastShard(ctx)
	if err != nil {
		return err
	}

	index := last
	var sh shard
	if index < 0 {
		index = 0
		sh = shard{messages: []chat.Message{}}
	} else {
		sh, err = s.fetch(ctx, index)
		if err != nil {
			return err
		}
		if len(sh.messages) >= s.shardSize {
			index++
			sh = shard{messages: []chat.Message{}}
		}
	}

	content, err := s.seal(append(sh.messages, msg))
	if err != nil {
		return err
	}
	if _, err := s.objects.CompareAndSwap(ctx, s.ShardPath(index), sh.revision, content); err != nil {
		return err
	}

	s.observe(index)
	s.logger.Debug().Int("shard", index).Str("id", msg.ID).Msg("message appended")
	return nil
}

// Ping reads the first shard, which checks both the remote credentials and
// the secret.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.fetch(ctx, 0)
	return err
}
