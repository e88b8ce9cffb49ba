package discord

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
)

// ThrottleError — платформа попросила подождать (429 с Retry-After).
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// classify переводит ошибку REST в доменную: 404-подобные коды становятся
// ErrMemberNotFound / ErrMessageNotFound, 429 — ThrottleError.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return err
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser:
			return fmt.Errorf("%w: %w", domain.ErrMemberNotFound, err)
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %w", domain.ErrMessageNotFound, err)
		}
	}
	if rest.Response != nil && rest.Response.StatusCode == http.StatusTooManyRequests {
		return &ThrottleError{RetryAfter: retryAfter(rest.Response), Cause: err}
	}
	return err
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return time.Second
}

// transient: повторяем только троттлинг и 5xx.
func transient(err error) bool {
	var tErr *ThrottleError
	if errors.As(err, &tErr) {
		return true
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		return rest.Response.StatusCode >= http.StatusInternalServerError
	}
	return false
}

// benign отличает ответ платформы от ее отказа.
// Они не должны открывать предохранитель.
func benign(err error) bool {
	return errors.Is(err, domain.ErrMemberNotFound) || errors.Is(err, domain.ErrMessageNotFound)
}
