package filestore

/*
Файл filestore.go — хранилище заявок в одном JSON-документе (driver: file).

Каждая мутация переписывает документ целиком: временный файл → fsync → rename →
fsync каталога. Память обновляется только после того, как запись легла на диск,
поэтому любой успешный ResolveByToken видит только то, что переживет kill -9.
Файлом владеет ровно один процесс.
*/

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
	"github.com/xela07ax/guild-gatekeeper/internal/store"
)

// Формат значения в документе.
type record struct {
	SubjectID    uint64 `json:"subject_id"`
	ApproveToken string `json:"approve_token"`
	DenyToken    string `json:"deny_token"`
}

type Store struct {
	mu      sync.Mutex
	path    string
	records map[string]record
	minter  store.Minter
	logger  *zap.Logger
	clock   store.Clock
	write   func(path string, data []byte) error
}

// Open читает документ с диска. Отсутствующий файл — пустое хранилище,
// битый — ErrStorageFault (молча начинать с нуля нельзя: потеряем заявки).
func Open(path string, m store.Minter, logger *zap.Logger) (*Store, error) {
	s := &Store{
		path:    path,
		records: make(map[string]record),
		minter:  m,
		logger:  logger.Named("filestore"),
		write:   writeFileAtomic,
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info("approval store file not found, starting empty", zap.String("path", path))
		return s, nil
	case err != nil:
		return nil, store.Fault("read "+path, err)
	}

	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &s.records); err != nil {
			return nil, store.Fault("decode "+path, err)
		}
	}
	if s.records == nil {
		s.records = make(map[string]record)
	}
	if err := validate(s.records); err != nil {
		return nil, store.Fault("validate "+path, err)
	}

	s.logger.Info("approval store loaded", zap.String("path", path), zap.Int("pending", len(s.records)))
	return s, nil
}

func (s *Store) Create(_ context.Context, requestID string, subjectID uint64) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[requestID]; ok {
		return "", "", fmt.Errorf("%w: %s", domain.ErrDuplicateRequest, requestID)
	}
	approve, deny, err := store.MintUnique(s.minter, s.clock.Now(), subjectID, s.tokenTaken)
	if err != nil {
		return "", "", err
	}

	next := s.clone()
	next[requestID] = record{SubjectID: subjectID, ApproveToken: approve, DenyToken: deny}
	if err := s.commit(next); err != nil {
		return "", "", store.Fault("create "+requestID, err)
	}
	return approve, deny, nil
}

func (s *Store) ResolveByToken(_ context.Context, token string) (domain.PendingApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.records {
		if r.ApproveToken == token || r.DenyToken == token {
			return r.toDomain(id), nil
		}
	}
	return domain.PendingApproval{}, domain.ErrNotFound
}

func (s *Store) Remove(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[requestID]; !ok {
		return nil
	}
	next := s.clone()
	delete(next, requestID)
	if err := s.commit(next); err != nil {
		return store.Fault("remove "+requestID, err)
	}
	return nil
}

func (s *Store) ListAll(_ context.Context) ([]domain.PendingApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.PendingApproval, 0, len(s.records))
	for id, r := range s.records {
		out = append(out, r.toDomain(id))
	}
	store.SortByRequest(out)
	return out, nil
}

func (s *Store) Close() error { return nil }

// commit пишет документ и только потом подменяет состояние в памяти.
// Если rename прошел, а fsync каталога нет, на диск возвращается прежний документ:
// ошибка наружу означает, что на диске записи нет.
func (s *Store) commit(next map[string]record) error {
	data, err := encode(next)
	if err != nil {
		return err
	}
	err = s.write(s.path, data)
	if err == nil {
		s.records = next
		return nil
	}
	if !errors.Is(err, errDirSync) {
		return err
	}

	prev, encErr := encode(s.records)
	if encErr != nil {
		return err
	}
	rbErr := s.write(s.path, prev)
	if rbErr == nil || errors.Is(rbErr, errDirSync) {
		// на диске снова прежний документ
		return err
	}

	// Откатить не вышло: на диске новый документ, память должна ему соответствовать
	s.logger.Error("approval store rollback failed, keeping written document",
		zap.NamedError("dir_sync_error", err), zap.Error(rbErr))
	s.records = next
	return nil
}

func encode(records map[string]record) ([]byte, error) {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (s *Store) clone() map[string]record {
	next := make(map[string]record, len(s.records)+1)
	for k, v := range s.records {
		next[k] = v
	}
	return next
}

func (s *Store) tokenTaken(tok string) bool {
	for _, r := range s.records {
		if r.ApproveToken == tok || r.DenyToken == tok {
			return true
		}
	}
	return false
}

func (r record) toDomain(requestID string) domain.PendingApproval {
	return domain.PendingApproval{
		RequestID:    requestID,
		SubjectID:    r.SubjectID,
		ApproveToken: r.ApproveToken,
		DenyToken:    r.DenyToken,
	}
}

// validate проверяет инварианты загруженного документа: токены заполнены,
// различны внутри записи и не пересекаются между записями.
func validate(records map[string]record) error {
	seen := make(map[string]string, len(records)*2)
	for id, r := range records {
		if r.ApproveToken == "" || r.DenyToken == "" || r.ApproveToken == r.DenyToken {
			return fmt.Errorf("record %s: invalid token pair", id)
		}
		for _, tok := range []string{r.ApproveToken, r.DenyToken} {
			if other, dup := seen[tok]; dup {
				return fmt.Errorf("record %s: token shared with %s", id, other)
			}
			seen[tok] = id
		}
	}
	return nil
}
