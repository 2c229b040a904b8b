package services

import (
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/sirupsen/logrus"

	"github.com/akinalp/mqvicall/config"
	"github.com/akinalp/mqvicall/models"
	"github.com/akinalp/mqvicall/pkg"
)

// RoomTokenService, iki kişilik arama odası için LiveKit credential'ı üretir.
type RoomTokenService interface {
	// IssueRoomToken, claims sahibinin req.RoomID odasına katılması için token üretir.
	// req.UserID token sahibiyle eşleşmeli ve oda adı kullanıcıyı içermelidir.
	IssueRoomToken(claims *models.TokenClaims, req models.RoomTokenRequest) (*models.RoomTokenResponse, error)
}

type roomTokenService struct {
	livekitCfg config.LiveKitConfig
	log        *logrus.Entry
}

// NewRoomTokenService, constructor.
func NewRoomTokenService(livekitCfg config.LiveKitConfig, logger *logrus.Entry) RoomTokenService {
	if livekitCfg.TokenTTL <= 0 {
		livekitCfg.TokenTTL = 6 * time.Hour
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &roomTokenService{
		livekitCfg: livekitCfg,
		log:        logger.WithField("component", "room_token"),
	}
}

func (s *roomTokenService) IssueRoomToken(claims *models.TokenClaims, req models.RoomTokenRequest) (*models.RoomTokenResponse, error) {
	if req.RoomID == "" {
		return nil, fmt.Errorf("%w: roomID is required", pkg.ErrBadRequest)
	}
	if req.UserID == "" {
		req.UserID = claims.UserID
	}
	if req.UserID != claims.UserID {
		return nil, fmt.Errorf("%w: userID does not match token", pkg.ErrForbidden)
	}
	if !models.RoomHasParticipant(req.RoomID, req.UserID) {
		return nil, fmt.Errorf("%w: not a participant of this room", pkg.ErrForbidden)
	}

	canPublish := true
	canSubscribe := true

	at := auth.NewAccessToken(s.livekitCfg.APIKey, s.livekitCfg.APISecret)
	grant := &auth.VideoGrant{
		RoomJoin:     true,
		Room:         req.RoomID,
		CanPublish:   &canPublish,
		CanSubscribe: &canSubscribe,
	}

	at.AddGrant(grant).
		SetIdentity(req.UserID).
		SetName(claims.Name()).
		SetValidFor(s.livekitCfg.TokenTTL)

	token, err := at.ToJWT()
	if err != nil {
		return nil, fmt.Errorf("failed to generate livekit token: %w", err)
	}

	s.log.WithFields(logrus.Fields{"room": req.RoomID, "user": req.UserID}).Debug("room token issued")

	return &models.RoomTokenResponse{
		Token:  token,
		URL:    s.livekitCfg.URL,
		RoomID: req.RoomID,
	}, nil
}
