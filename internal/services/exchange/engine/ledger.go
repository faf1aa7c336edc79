package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"cashlink/internal/models"
)

const (
	codeMin   = 100000
	codeRange = 900000
)

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// CreateMatch reserves a and b into a new match in one step. The returned code
// is the only plaintext copy; the store keeps its hash.
func (e *Engine) CreateMatch(ctx context.Context, a, b *models.ExchangeRequest) (*models.Match, string, error) {
	if a.ID == b.ID {
		return nil, "", &models.ValidationError{Fields: []models.FieldError{{Field: "requestB", Msg: "must differ from requestA"}}}
	}

	if a.Mode.Opposite() != b.Mode {
		return nil, "", &models.ValidationError{Fields: []models.FieldError{{Field: "mode", Msg: "requests must have opposite modes"}}}
	}

	code, err := generateCode()
	if err != nil {
		e.logger.Err(err).Msg("unable to generate verification code")
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), e.cfg.CodeHashCost)
	if err != nil {
		e.logger.Err(err).Msg("unable to hash verification code")
		return nil, "", err
	}

	match := &models.Match{
		ID:        uuid.NewString(),
		RequestA:  a.ID,
		RequestB:  b.ID,
		CodeHash:  string(hash),
		CreatedAt: e.now().UTC(),
	}

	match.SealedCode, err = e.sealer.seal(match.ID, code)
	if err != nil {
		e.logger.Err(err).Msg("unable to seal verification code")
		return nil, "", err
	}

	if err := e.store.Reserve(ctx, match); err != nil {
		return nil, "", err
	}

	matchesCreated.Inc()
	e.logger.Info().Str("match", match.ID).Str("a", a.ID).Str("b", b.ID).Msg("match created")

	e.notify(ctx, match, code)

	return match, code, nil
}

// PendingMatch returns the match notification for requestID, code included,
// so a session that missed the push can pick it up. It fails with
// models.ErrNotFound while the request is unmatched.
func (e *Engine) PendingMatch(ctx context.Context, requestID string) (*models.MatchFound, error) {
	if requestID == "" {
		return nil, models.ErrNotFound
	}

	match, err := e.store.MatchForRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	code, err := e.sealer.open(match.ID, match.SealedCode)
	if err != nil {
		e.logger.Err(err).Msg("unable to open verification code of " + match.ID)
		return nil, err
	}

	return &models.MatchFound{MatchID: match.ID, RequestID: requestID, OTP: code}, nil
}

func (e *Engine) notify(ctx context.Context, match *models.Match, code string) {
	if e.notifier == nil {
		return
	}

	for _, requestID := range []string{match.RequestA, match.RequestB} {
		event := models.MatchFound{MatchID: match.ID, RequestID: requestID, OTP: code}
		if err := e.notifier.MatchFound(ctx, event); err != nil {
			e.logger.Err(err).Msg("unable to publish match notification for " + requestID)
		}
	}
}
