package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"dialogd/pkg/logger"
	"dialogd/pkg/models"
	"dialogd/pkg/utils"
)

var (
	// ErrNotFound is returned when a user or message lookup misses.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned on duplicate user creation.
	ErrAlreadyExists = errors.New("already exists")
)

// Store is a Pebble-backed context store. It owns the mapping from the
// logical operations (create/read/append/truncate/resolve) to key-value
// reads and targeted single-key writes.
//
// Key layout:
//
//	user:<uid>              user record (identity, system prompt, truncation index)
//	user:<uid>:msg:<seq>    one message, seq sortable so key order = insertion order
//	user:<uid>:msgid:<mid>  message-id index -> message key, for partial updates
//	channel:<chid>          channel addressing -> uid
type Store struct {
	db            *pebble.DB
	path          string
	defaultPrompt string
	seq           uint64
}

// Open opens (or creates) a Pebble database at the given path. The
// returned handle must be closed by the caller at shutdown.
func Open(path, defaultSystemPrompt string) (*Store, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &Store{db: db, path: path, defaultPrompt: defaultSystemPrompt}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Info("pebble_closed", "path", s.path)
	return err
}

// Ready reports whether the store is opened and usable.
func (s *Store) Ready() bool { return s != nil && s.db != nil }

// Path returns the database directory.
func (s *Store) Path() string { return s.path }

func userKey(uid string) []byte   { return []byte("user:" + uid) }
func msgPrefix(uid string) []byte { return []byte("user:" + uid + ":msg:") }
func channelKey(ch string) []byte { return []byte("channel:" + ch) }

func idxKey(uid, mid string) []byte {
	return []byte("user:" + uid + ":msgid:" + mid)
}

// nextMsgKey returns a message key sorting after every existing one. The
// counter suffix keeps keys unique within a nanosecond.
func (s *Store) nextMsgKey(uid string) []byte {
	ts := time.Now().UTC().UnixNano()
	n := atomic.AddUint64(&s.seq, 1)
	return []byte(fmt.Sprintf("user:%s:msg:%020d-%06d", uid, ts, n))
}

// userRecord is the persisted shape of a user minus the context, which
// lives under its own message keys.
type userRecord struct {
	UserID          string         `json:"user_id"`
	Username        string         `json:"username,omitempty"`
	ChannelID       string         `json:"channel_id,omitempty"`
	SystemPrompt    models.Message `json:"system_prompt"`
	TruncationIndex int            `json:"truncation_index"`
}

func (s *Store) getRecord(uid string) (*userRecord, error) {
	v, closer, err := s.db.Get(userKey(uid))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", uid, ErrNotFound)
		}
		return nil, err
	}
	defer closer.Close()
	var rec userRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, fmt.Errorf("invalid user record for %s: %w", uid, err)
	}
	return &rec, nil
}

func (s *Store) putRecord(rec *userRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Set(userKey(rec.UserID), b, pebble.Sync)
}

// CreateUser inserts a new user with an empty context and the configured
// default system prompt. Duplicate ids fail with ErrAlreadyExists.
func (s *Store) CreateUser(userID, username, channelID string) error {
	if _, err := s.getRecord(userID); err == nil {
		observeOp("create_user", "conflict")
		return fmt.Errorf("user %s: %w", userID, ErrAlreadyExists)
	} else if !errors.Is(err, ErrNotFound) {
		observeOp("create_user", "error")
		return err
	}
	rec := &userRecord{
		UserID:    userID,
		Username:  username,
		ChannelID: channelID,
		SystemPrompt: models.Message{
			ID:   utils.GenMessageID(),
			Role: models.RoleSystem,
			Text: s.defaultPrompt,
		},
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(userKey(userID), b, nil); err != nil {
		return err
	}
	if channelID != "" {
		if err := batch.Set(channelKey(channelID), []byte(userID), nil); err != nil {
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		observeOp("create_user", "error")
		logger.Error("create_user_failed", "user", userID, "error", err)
		return err
	}
	observeOp("create_user", "ok")
	logger.Info("user_created", "user", userID, "channel", channelID)
	return nil
}

// FindOrCreateUser returns the stored user unchanged when present; the
// username of an existing record is deliberately not updated. Otherwise a
// new user is created.
func (s *Store) FindOrCreateUser(userID, username string) (*models.User, error) {
	u, err := s.GetUser(userID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if cerr := s.CreateUser(userID, username, ""); cerr != nil && !errors.Is(cerr, ErrAlreadyExists) {
		return nil, cerr
	}
	return s.GetUser(userID)
}

// GetUser loads the full user including its message context in insertion
// order.
func (s *Store) GetUser(userID string) (*models.User, error) {
	rec, err := s.getRecord(userID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.loadMessages(userID, -1)
	if err != nil {
		return nil, err
	}
	return &models.User{
		UserID:          rec.UserID,
		Username:        rec.Username,
		ChannelID:       rec.ChannelID,
		SystemPrompt:    rec.SystemPrompt,
		Context:         msgs,
		TruncationIndex: rec.TruncationIndex,
	}, nil
}

// GetUserByChannel resolves a user through the channel index. Callers that
// only know a chat/session handle use this addressing scheme.
func (s *Store) GetUserByChannel(channelID string) (*models.User, error) {
	v, closer, err := s.db.Get(channelKey(channelID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
		}
		return nil, err
	}
	uid := string(v)
	closer.Close()
	return s.GetUser(uid)
}

// GetAllUsers returns a full snapshot of every stored user.
func (s *Store) GetAllUsers() ([]models.User, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	prefix := []byte("user:")
	var ids []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		// skip message and index keys
		if bytes.Contains(k, []byte(":msg:")) || bytes.Contains(k, []byte(":msgid:")) {
			continue
		}
		ids = append(ids, string(k[len(prefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.GetUser(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, nil
}

// GetContext returns the user's system prompt and the last `limit`
// messages not hidden by the truncation pointer.
func (s *Store) GetContext(userID string, limit int) (models.Message, []models.Message, error) {
	u, err := s.GetUser(userID)
	if err != nil {
		observeOp("get_context", "miss")
		return models.Message{}, nil, err
	}
	observeOp("get_context", "ok")
	return u.SystemPrompt, u.VisibleWindow(limit), nil
}

// AppendExchange appends messages to the end of the user's context in one
// synced batch, so other readers never observe a partial write. Message
// ids are assigned when absent.
func (s *Store) AppendExchange(userID string, msgs []models.Message) error {
	if _, err := s.getRecord(userID); err != nil {
		observeOp("append_exchange", "miss")
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for i := range msgs {
		if msgs[i].ID == "" {
			msgs[i].ID = utils.GenMessageID()
		}
		b, err := json.Marshal(msgs[i])
		if err != nil {
			return err
		}
		key := s.nextMsgKey(userID)
		if err := batch.Set(key, b, nil); err != nil {
			return err
		}
		if err := batch.Set(idxKey(userID, msgs[i].ID), key, nil); err != nil {
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		observeOp("append_exchange", "error")
		logger.Error("append_exchange_failed", "user", userID, "error", err)
		return err
	}
	observeOp("append_exchange", "ok")
	logger.Info("exchange_appended", "user", userID, "count", len(msgs))
	return nil
}

// ClearHistory advances the truncation pointer to the current context
// length. The messages stay stored but disappear from every future
// window; later appends remain visible.
func (s *Store) ClearHistory(userID string) error {
	rec, err := s.getRecord(userID)
	if err != nil {
		observeOp("clear_history", "miss")
		return err
	}
	n, err := s.countMessages(userID)
	if err != nil {
		return err
	}
	rec.TruncationIndex = n
	if err := s.putRecord(rec); err != nil {
		observeOp("clear_history", "error")
		return err
	}
	observeOp("clear_history", "ok")
	logger.Info("history_cleared", "user", userID, "truncation_index", n)
	return nil
}

// RemoveUser deletes the user, its messages and indexes permanently.
// Removing an absent user is a no-op, keeping caller retry logic simple.
func (s *Store) RemoveUser(userID string) error {
	rec, err := s.getRecord(userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			observeOp("remove_user", "noop")
			return nil
		}
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	// covers both :msg: and :msgid: namespaces
	lo := []byte("user:" + userID + ":")
	hi := []byte("user:" + userID + ";")
	if err := batch.DeleteRange(lo, hi, nil); err != nil {
		return err
	}
	if err := batch.Delete(userKey(userID), nil); err != nil {
		return err
	}
	if rec.ChannelID != "" {
		if err := batch.Delete(channelKey(rec.ChannelID), nil); err != nil {
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		observeOp("remove_user", "error")
		return err
	}
	observeOp("remove_user", "ok")
	logger.Info("user_removed", "user", userID)
	return nil
}

// SetCandidateIDs attaches external candidate ids to the answer message
// identified by answerID, as a targeted single-message update.
func (s *Store) SetCandidateIDs(userID, answerID string, ids []string) error {
	key, msg, err := s.loadMessage(userID, answerID)
	if err != nil {
		observeOp("set_candidate_ids", "miss")
		return err
	}
	if err := msg.SetCandidateIDs(ids); err != nil {
		observeOp("set_candidate_ids", "rejected")
		return err
	}
	if err := s.writeMessage(key, msg); err != nil {
		observeOp("set_candidate_ids", "error")
		return err
	}
	observeOp("set_candidate_ids", "ok")
	logger.Info("candidate_ids_set", "user", userID, "answer", answerID, "count", len(ids))
	return nil
}

// ResolveByChoice canonicalizes the addressed answer to the candidate
// registered under chosenID and returns the final text.
func (s *Store) ResolveByChoice(userID, answerID, chosenID string) (string, error) {
	key, msg, err := s.loadMessage(userID, answerID)
	if err != nil {
		observeOp("resolve_choice", "miss")
		return "", err
	}
	text, err := msg.ResolveByChoice(chosenID)
	if err != nil {
		observeOp("resolve_choice", "rejected")
		return "", err
	}
	if err := s.writeMessage(key, msg); err != nil {
		observeOp("resolve_choice", "error")
		return "", err
	}
	observeOp("resolve_choice", "ok")
	logger.Info("answer_resolved", "user", userID, "answer", answerID, "choice", chosenID)
	return text, nil
}

// ResolveByCustom canonicalizes an answer to caller-supplied text. The
// answer is addressed either by its own message id or, when that misses,
// by a candidate-id marker contained in its registered candidate ids —
// different callers know different identifiers.
func (s *Store) ResolveByCustom(userID, ref, customText string) error {
	key, msg, err := s.loadMessage(userID, ref)
	if errors.Is(err, ErrNotFound) {
		key, msg, err = s.findByCandidateID(userID, ref)
	}
	if err != nil {
		observeOp("resolve_custom", "miss")
		return err
	}
	if err := msg.ResolveByCustom(customText); err != nil {
		observeOp("resolve_custom", "rejected")
		return err
	}
	if err := s.writeMessage(key, msg); err != nil {
		observeOp("resolve_custom", "error")
		return err
	}
	observeOp("resolve_custom", "ok")
	logger.Info("answer_resolved_custom", "user", userID, "ref", ref)
	return nil
}

// loadMessages returns up to max messages (all when max < 0) for the user
// in insertion order.
func (s *Store) loadMessages(userID string, max int) ([]models.Message, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	prefix := msgPrefix(userID)
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid message at %s: %w", iter.Key(), err)
		}
		out = append(out, m)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, iter.Error()
}

func (s *Store) countMessages(userID string) (int, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	prefix := msgPrefix(userID)
	n := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		n++
	}
	return n, iter.Error()
}

// loadMessage resolves a message through the id index and returns its
// storage key together with the decoded message.
func (s *Store) loadMessage(userID, msgID string) ([]byte, *models.Message, error) {
	v, closer, err := s.db.Get(idxKey(userID, msgID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil, fmt.Errorf("message %s for user %s: %w", msgID, userID, ErrNotFound)
		}
		return nil, nil, err
	}
	key := append([]byte(nil), v...)
	closer.Close()
	mv, mcloser, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil, fmt.Errorf("message %s for user %s: %w", msgID, userID, ErrNotFound)
		}
		return nil, nil, err
	}
	defer mcloser.Close()
	var m models.Message
	if err := json.Unmarshal(mv, &m); err != nil {
		return nil, nil, fmt.Errorf("invalid message %s: %w", msgID, err)
	}
	return key, &m, nil
}

// findByCandidateID scans the user's messages for an answer whose
// registered candidate ids contain the marker.
func (s *Store) findByCandidateID(userID, marker string) ([]byte, *models.Message, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, nil, err
	}
	defer iter.Close()
	prefix := msgPrefix(userID)
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.HasCandidateID(marker) {
			key := append([]byte(nil), iter.Key()...)
			return key, &m, nil
		}
	}
	if err := iter.Error(); err != nil {
		return nil, nil, err
	}
	return nil, nil, fmt.Errorf("candidate marker %s for user %s: %w", marker, userID, ErrNotFound)
}

func (s *Store) writeMessage(key []byte, m *models.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Set(key, b, pebble.Sync)
}
