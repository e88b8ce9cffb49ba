package store

/*
Пакет store описывает долговременное хранилище заявок (Durable Request Store).

Хранилище — единственный владелец авторитетной копии PendingApproval. Кнопки
держат только токен и на каждое нажатие заново резолвят запись здесь.
Последовательность ResolveByToken → Remove — единственная точка взаимного
исключения: после Remove повторное нажатие видит ErrNotFound.
*/

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
)

// Store — контракт хранилища. Реализации: filestore, redisstore, pgstore, Memory.
type Store interface {
	// Create выпускает два свежих токена, сохраняет запись и возвращает токены.
	// При сбое носителя возвращает ошибку с domain.ErrStorageFault и ничего не сохраняет.
	Create(ctx context.Context, requestID string, subjectID uint64) (approve, deny string, err error)
	// ResolveByToken ищет живую запись по точному совпадению токена.
	ResolveByToken(ctx context.Context, token string) (domain.PendingApproval, error)
	// Remove идемпотентен: отсутствующий ключ — не ошибка.
	Remove(ctx context.Context, requestID string) error
	// ListAll — конечный снимок всех записей, используется при старте.
	ListAll(ctx context.Context) ([]domain.PendingApproval, error)
	Close() error
}

// Minter выпускает пары токенов для хранилища.
type Minter interface {
	MintPair(subjectID uint64, issuedAt time.Time) (approve, deny string, err error)
}

// Сколько раз сдвигаем issuedAt при коллизии токенов.
const maxMintAttempts = 8

// MintUnique выпускает пару токенов, не пересекающуюся с живыми записями.
// taken сообщает, занят ли токен; при коллизии время выпуска сдвигается на 1ns.
func MintUnique(m Minter, issuedAt time.Time, subjectID uint64, taken func(token string) bool) (approve, deny string, err error) {
	for i := 0; i < maxMintAttempts; i++ {
		approve, deny, err = m.MintPair(subjectID, issuedAt.Add(time.Duration(i)))
		if err != nil {
			return "", "", fmt.Errorf("mint tokens: %w", err)
		}
		if !taken(approve) && !taken(deny) {
			return approve, deny, nil
		}
	}
	return "", "", fmt.Errorf("%w: subject %d after %d attempts", domain.ErrTokenCollision, subjectID, maxMintAttempts)
}

// Fault заворачивает ошибку носителя в категорию ErrStorageFault.
func Fault(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageFault, op, err)
}

// Clock выдает строго возрастающее время выпуска токенов даже при грубом системном таймере.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now
	if c.now != nil {
		now = c.now
	}
	t := now()
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}
