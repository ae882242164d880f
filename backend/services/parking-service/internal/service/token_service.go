package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"parkline/backend/services/parking-service/internal/repository"
	"parkline/backend/services/parking-service/internal/token"
)

// DecodedToken names the record a token addresses.
type DecodedToken struct {
	ID   int64      `json:"id"`
	Type token.Kind `json:"type"`
}

// TokenService classifies tokens without decoding them.
type TokenService struct {
	sessions SessionStore
	bulk     BulkStore
	tokens   *token.Registry
	logger   *zap.Logger
}

// NewTokenService builds service.
func NewTokenService(sessions SessionStore, bulk BulkStore, tokens *token.Registry, logger *zap.Logger) *TokenService {
	return &TokenService{sessions: sessions, bulk: bulk, tokens: tokens, logger: logger}
}

// Decode finds what tok was issued for. Session tokens are looked up by equality;
// bulk tokens are matched by re-hashing every chunk and sub-assignment id, which is
// linear in the number of bulk records.
func (s *TokenService) Decode(ctx context.Context, tok string) (*DecodedToken, error) {
	if !token.WellFormed(tok) {
		return nil, fmt.Errorf("%w: unknown token", ErrNotFound)
	}

	session, err := s.sessions.GetByToken(ctx, tok)
	switch {
	case err == nil:
		kind := token.KindBilling
		if session.IsBooking() {
			kind = token.KindBooking
		}
		return &DecodedToken{ID: session.ID, Type: kind}, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, internalErr("lookup session token", err)
	}

	chunkIDs, err := s.bulk.ChunkIDs(ctx)
	if err != nil {
		return nil, internalErr("list chunk ids", err)
	}
	assignmentIDs, err := s.bulk.AssignmentIDs(ctx)
	if err != nil {
		return nil, internalErr("list assignment ids", err)
	}

	candidates := make([]token.Candidate, 0, len(chunkIDs)+len(assignmentIDs))
	for _, id := range chunkIDs {
		candidates = append(candidates, token.Candidate{ID: id, Kind: token.KindBulkBooking})
	}
	for _, id := range assignmentIDs {
		candidates = append(candidates, token.Candidate{ID: id, Kind: token.KindSubBulkBooking})
	}

	match, ok := s.tokens.Resolve(tok, candidates)
	if !ok {
		s.logger.Debug("token not matched", zap.Int("candidates", len(candidates)))
		return nil, fmt.Errorf("%w: unknown token", ErrNotFound)
	}
	return &DecodedToken{ID: match.ID, Type: match.Kind}, nil
}
