package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/akinalp/mqvicall/call"
	"github.com/akinalp/mqvicall/config"
	"github.com/akinalp/mqvicall/media"
	"github.com/akinalp/mqvicall/signaling"
	"github.com/akinalp/mqvicall/tokenclient"
)

// callClient, signaling + token + media engine + Manager bütünü.
type callClient struct {
	manager *call.Manager
	signal  *signaling.Client
	tokens  *tokenclient.Client
}

func newCallClient(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*callClient, error) {
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}

	sig, err := signaling.Dial(ctx, signaling.Config{
		URL:       cfg.Client.SignalingURL,
		Token:     cfg.Client.AccessToken,
		Reconnect: true,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to relay: %w", err)
	}

	tokens, err := tokenclient.New(tokenclient.Config{
		BaseURL:     cfg.Client.APIURL,
		AccessToken: cfg.Client.AccessToken,
		Logger:      log,
	})
	if err != nil {
		sig.Close()
		return nil, err
	}

	engine, err := media.NewEngine(media.EngineConfig{URL: cfg.LiveKit.URL, Logger: log})
	if err != nil {
		tokens.Close()
		sig.Close()
		return nil, err
	}

	p := presenter{log: log}
	mgr, err := call.New(call.Config{
		LocalID:         cfg.Client.UserID,
		DisplayName:     cfg.Client.DisplayName,
		InviteTimeout:   cfg.Call.InviteTimeout,
		OutgoingTimeout: cfg.Call.OutgoingTimeout,
		Logger:          log,
	}, call.Deps{
		Signaler:  sig,
		Tokens:    tokens,
		Media:     engine,
		Indicator: p,
		Sink:      p,
		Notifier:  p,
	})
	if err != nil {
		tokens.Close()
		sig.Close()
		return nil, err
	}

	return &callClient{manager: mgr, signal: sig, tokens: tokens}, nil
}

// Close, önce Manager'ı (aktif aramayı kapatır) sonra transport'ları kapatır.
func (c *callClient) Close() {
	c.manager.Close()
	c.signal.Close()
	c.tokens.Close()
}
