// Package services provides external service integrations and technical concerns like notifications and tokens
package services

import (
	"context"
	"image"
	"image/color"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wenlng/go-captcha/v2/rotate"
)

// CaptchaService gates the merchant login form with a rotate captcha.
// A challenge is two base64 images and an ID; the dashboard renders them,
// the merchant rotates the thumb into place, and the login request carries
// the applied angle back for verification.
//
// Challenges live in memory with a TTL and are single use: a verify
// attempt consumes the challenge whether it passes or not, so a wrong
// angle cannot be brute-forced against the same challenge.
type CaptchaService interface {
	// GenerateRotate creates a rotate captcha challenge and returns the assets and challenge ID
	GenerateRotate(ctx context.Context) (*RotateChallenge, error)
	// VerifyRotate verifies the provided user angle for a given challenge ID
	VerifyRotate(ctx context.Context, challengeID string, userAngle float64) bool
}

type RotateChallenge struct {
	ID                string
	MasterImageBase64 string
	ThumbImageBase64  string
}

type rotateCaptchaService struct {
	rotator rotate.Captcha
	store   *challengeStore
	padding int // accepted angle error in degrees
}

// NewCaptchaServiceRotate builds the rotate captcha service. Backgrounds
// are generated at startup so no image assets ship with the binary.
func NewCaptchaServiceRotate(ttl time.Duration, padding int, imgSizePx int) (CaptchaService, error) {
	if imgSizePx <= 0 {
		imgSizePx = 220
	}

	builder := rotate.NewBuilder(
		rotate.WithImageSquareSize(imgSizePx),
	)
	builder.SetResources(
		rotate.WithImages(rotateBackdrops(3, imgSizePx)),
	)

	return &rotateCaptchaService{
		rotator: builder.Make(),
		store:   newChallengeStore(ttl),
		padding: padding,
	}, nil
}

func (s *rotateCaptchaService) GenerateRotate(ctx context.Context) (*RotateChallenge, error) {
	captData, err := s.rotator.Generate()
	if err != nil {
		return nil, err
	}

	block := captData.GetData()
	if block == nil {
		return nil, err
	}

	masterB64, err := captData.GetMasterImage().ToBase64()
	if err != nil {
		return nil, err
	}
	thumbB64, err := captData.GetThumbImage().ToBase64()
	if err != nil {
		return nil, err
	}

	challengeID := uuid.New().String()
	s.store.Put(challengeID, block.Angle)

	return &RotateChallenge{
		ID:                challengeID,
		MasterImageBase64: masterB64,
		ThumbImageBase64:  thumbB64,
	}, nil
}

func (s *rotateCaptchaService) VerifyRotate(ctx context.Context, challengeID string, userAngle float64) bool {
	targetAngle, ok := s.store.Take(challengeID)
	if !ok {
		return false
	}

	return rotate.Validate(int(math.Round(userAngle)), targetAngle, s.padding)
}

// challengeStore holds pending challenge angles in memory with a TTL.
// Login traffic is low enough that this never needs to leave the process.
type challengeStore struct {
	mu  sync.Mutex
	m   map[string]challengeEntry
	ttl time.Duration
}

type challengeEntry struct {
	targetAngle int
	expiresAt   time.Time
}

func newChallengeStore(ttl time.Duration) *challengeStore {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	cs := &challengeStore{
		m:   make(map[string]challengeEntry),
		ttl: ttl,
	}
	go cs.sweep()
	return cs
}

func (s *challengeStore) Put(id string, targetAngle int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = challengeEntry{
		targetAngle: targetAngle,
		expiresAt:   time.Now().Add(s.ttl),
	}
}

// Take removes and returns the challenge in one step. Single use.
func (s *challengeStore) Take(id string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.m[id]
	if !ok {
		return 0, false
	}
	delete(s.m, id)

	if time.Now().After(entry.expiresAt) {
		return 0, false
	}
	return entry.targetAngle, true
}

func (s *challengeStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		s.mu.Lock()
		for id, entry := range s.m {
			if now.After(entry.expiresAt) {
				delete(s.m, id)
			}
		}
		s.mu.Unlock()
	}
}

// rotateBackdrops generates n square background images for the rotator
func rotateBackdrops(n int, size int) []image.Image {
	if n <= 0 {
		n = 1
	}
	imgs := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		imgs = append(imgs, noiseGradient(size))
	}
	return imgs
}

// noiseGradient renders a diagonal gradient with per-pixel noise. The
// validator only needs enough texture for the rotation to be visible.
func noiseGradient(size int) image.Image {
	rgba := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			t := float64(x+y) / float64(2*size)
			base := uint8(210 - int(140*t))
			noise := uint8(rand.Intn(28))
			rgba.Set(x, y, color.RGBA{
				R: base + noise/4,
				G: base - noise/6,
				B: 255 - base/2,
				A: 255,
			})
		}
	}
	return rgba
}
