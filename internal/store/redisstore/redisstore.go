package redisstore

/*
Файл redisstore.go — хранилище заявок в Redis (driver: redis).

Записи лежат в hash gatekeeper:approvals (requestID -> JSON), обратный индекс
токенов — в gatekeeper:approvals:tokens (token -> requestID). Обе структуры
меняются одной транзакцией MULTI/EXEC, поэтому индекс не расходится с записями.
Требование AOF с appendfsync always лежит на конфигурации Redis.

Хранилищем владеет один процесс: при открытии берется аренда (SET NX + TTL),
которая продлевается в фоне и снимается при Close. Потеряв аренду, хранилище
перестает принимать Create и Remove; чтение остается.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
	"github.com/xela07ax/guild-gatekeeper/internal/infra"
	"github.com/xela07ax/guild-gatekeeper/internal/store"
)

// ErrLeaseHeld: хранилище уже занято другим процессом.
var ErrLeaseHeld = errors.New("redisstore: store is owned by another process")

// ErrLeaseLost: аренду перехватили или она истекла, писать больше нельзя.
var ErrLeaseLost = errors.New("redisstore: owner lease lost")

var (
	// Продлеваем аренду, только если она все еще наша
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

type record struct {
	SubjectID    uint64 `json:"subject_id"`
	ApproveToken string `json:"approve_token"`
	DenyToken    string `json:"deny_token"`
}

// Options настраивают аренду владельца.
type Options struct {
	Owner    string        // уникальный ID процесса
	LeaseTTL time.Duration // 0 — аренда не используется
}

type Store struct {
	rdb    *redis.Client
	minter store.Minter
	logger *zap.Logger
	clock  store.Clock
	opts   Options

	lost atomic.Bool
	stop chan struct{}
	wg   sync.WaitGroup
}

// Open проверяет соединение, берет аренду и запускает ее продление.
func Open(ctx context.Context, rdb *redis.Client, m store.Minter, logger *zap.Logger, opts Options) (*Store, error) {
	s := &Store{
		rdb:    rdb,
		minter: m,
		logger: logger.Named("redisstore"),
		opts:   opts,
		stop:   make(chan struct{}),
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, store.Fault("ping", err)
	}

	if opts.LeaseTTL > 0 {
		if err := s.acquire(ctx); err != nil {
			return nil, err
		}
		s.wg.Add(1)
		go s.keepLease()
	}
	return s, nil
}

func (s *Store) acquire(ctx context.Context) error {
	ok, err := s.rdb.SetNX(ctx, infra.RedisKeyOwnerLease, s.opts.Owner, s.opts.LeaseTTL).Result()
	if err != nil {
		return store.Fault("acquire lease", err)
	}
	if ok {
		s.logger.Info("store lease acquired", zap.String("owner", s.opts.Owner))
		return nil
	}

	holder, err := s.rdb.Get(ctx, infra.RedisKeyOwnerLease).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return store.Fault("read lease", err)
	}
	if holder == s.opts.Owner {
		return nil
	}
	return fmt.Errorf("%w (holder %q)", ErrLeaseHeld, holder)
}

func (s *Store) keepLease() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.LeaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.LeaseTTL/3)
			s.renew(ctx)
			cancel()
		}
	}
}

// renew продлевает аренду. Сетевой сбой не считается потерей: ключ мог остаться нашим.
func (s *Store) renew(ctx context.Context) {
	n, err := renewScript.Run(ctx, s.rdb, []string{infra.RedisKeyOwnerLease},
		s.opts.Owner, s.opts.LeaseTTL.Milliseconds()).Int()
	if err != nil {
		s.logger.Warn("store lease renewal failed", zap.Error(err))
		return
	}
	if n == 0 && !s.lost.Swap(true) {
		s.logger.Error("store lease lost, writes are disabled", zap.String("owner", s.opts.Owner))
	}
}

func (s *Store) checkLease(op string) error {
	if s.lost.Load() {
		return store.Fault(op, ErrLeaseLost)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, requestID string, subjectID uint64) (string, string, error) {
	if err := s.checkLease("create " + requestID); err != nil {
		return "", "", err
	}
	exists, err := s.rdb.HExists(ctx, infra.RedisKeyApprovals, requestID).Result()
	if err != nil {
		return "", "", store.Fault("create "+requestID, err)
	}
	if exists {
		return "", "", fmt.Errorf("%w: %s", domain.ErrDuplicateRequest, requestID)
	}

	var lookupErr error
	approve, deny, err := store.MintUnique(s.minter, s.clock.Now(), subjectID, func(tok string) bool {
		taken, err := s.rdb.HExists(ctx, infra.RedisKeyApprovalTokens, tok).Result()
		if err != nil {
			lookupErr = err
			return false
		}
		return taken
	})
	if lookupErr != nil {
		return "", "", store.Fault("create "+requestID, lookupErr)
	}
	if err != nil {
		return "", "", err
	}

	data, err := json.Marshal(record{SubjectID: subjectID, ApproveToken: approve, DenyToken: deny})
	if err != nil {
		return "", "", fmt.Errorf("encode record: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, infra.RedisKeyApprovals, requestID, data)
		pipe.HSet(ctx, infra.RedisKeyApprovalTokens, approve, requestID, deny, requestID)
		return nil
	})
	if err != nil {
		return "", "", store.Fault("create "+requestID, err)
	}
	return approve, deny, nil
}

func (s *Store) ResolveByToken(ctx context.Context, token string) (domain.PendingApproval, error) {
	requestID, err := s.rdb.HGet(ctx, infra.RedisKeyApprovalTokens, token).Result()
	if errors.Is(err, redis.Nil) {
		return domain.PendingApproval{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PendingApproval{}, store.Fault("resolve", err)
	}

	rec, err := s.get(ctx, requestID)
	if err != nil {
		return domain.PendingApproval{}, err
	}
	if !rec.HasToken(token) {
		// индекс указывает на чужую запись, токен мертв
		return domain.PendingApproval{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *Store) Remove(ctx context.Context, requestID string) error {
	if err := s.checkLease("remove " + requestID); err != nil {
		return err
	}
	rec, err := s.get(ctx, requestID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, infra.RedisKeyApprovals, requestID)
		pipe.HDel(ctx, infra.RedisKeyApprovalTokens, rec.ApproveToken, rec.DenyToken)
		return nil
	})
	if err != nil {
		return store.Fault("remove "+requestID, err)
	}
	return nil
}

func (s *Store) ListAll(ctx context.Context) ([]domain.PendingApproval, error) {
	all, err := s.rdb.HGetAll(ctx, infra.RedisKeyApprovals).Result()
	if err != nil {
		return nil, store.Fault("list", err)
	}

	out := make([]domain.PendingApproval, 0, len(all))
	for id, raw := range all {
		rec, err := decode(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	store.SortByRequest(out)
	return out, nil
}

// Close останавливает продление и отпускает аренду. Клиент Redis закрывает владелец.
func (s *Store) Close() error {
	if s.opts.LeaseTTL <= 0 {
		return nil
	}
	close(s.stop)
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, s.rdb, []string{infra.RedisKeyOwnerLease}, s.opts.Owner).Err(); err != nil {
		return fmt.Errorf("redisstore: release lease: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, requestID string) (domain.PendingApproval, error) {
	raw, err := s.rdb.HGet(ctx, infra.RedisKeyApprovals, requestID).Result()
	if errors.Is(err, redis.Nil) {
		return domain.PendingApproval{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PendingApproval{}, store.Fault("get "+requestID, err)
	}
	return decode(requestID, raw)
}

func decode(requestID, raw string) (domain.PendingApproval, error) {
	var r record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return domain.PendingApproval{}, store.Fault("decode "+requestID, err)
	}
	return domain.PendingApproval{
		RequestID:    requestID,
		SubjectID:    r.SubjectID,
		ApproveToken: r.ApproveToken,
		DenyToken:    r.DenyToken,
	}, nil
}
