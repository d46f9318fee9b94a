package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// IPHasher turns client addresses into keyed hashes. Flood marks use the
// epoch-scoped HashIP so they cannot be correlated across rotations; avatars
// use the stable Fingerprint so a commenter keeps the same identicon.
type IPHasher struct {
	rotationInterval time.Duration
	pepper           []byte
	mu               sync.RWMutex
	currentKey       []byte
	previousKey      []byte
	fingerprintKey   []byte
	currentEpoch     int64
	stopChan         chan struct{}
	stopped          bool
	now              func() time.Time
}

var (
	ErrHasherStopped   = errors.New("IP hasher stopped")
	ErrInvalidInterval = errors.New("rotation interval must be >= 15 minutes")
)

func NewIPHasher(pepper []byte, rotationInterval time.Duration) (*IPHasher, error) {
	if rotationInterval < 15*time.Minute {
		return nil, ErrInvalidInterval
	}
	if len(pepper) < 32 {
		return nil, errors.New("pepper must be at least 32 bytes")
	}
	h := &IPHasher{
		rotationInterval: rotationInterval,
		pepper:           make([]byte, len(pepper)),
		stopChan:         make(chan struct{}),
		now:              time.Now,
	}
	copy(h.pepper, pepper)
	h.fingerprintKey = h.deriveKey("fingerprint")
	h.rotate(h.getEpoch(h.now()))
	return h, nil
}

// Start runs the key rotation loop until Stop.
func (h *IPHasher) Start() {
	go h.rotationLoop()
}

func (h *IPHasher) HashIP(ip string) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return "", ErrHasherStopped
	}
	return hashWithKey(ip, h.currentKey, h.currentEpoch), nil
}

// Fingerprint is stable across rotations and only changes with the pepper.
func (h *IPHasher) Fingerprint(ip string) ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return nil, ErrHasherStopped
	}
	mac := hmac.New(sha256.New, h.fingerprintKey)
	mac.Write([]byte(ip))
	return mac.Sum(nil), nil
}

// VerifyIPHash accepts hashes from the current and the previous epoch.
func (h *IPHasher) VerifyIPHash(ip string, hashStr string) (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return false, ErrHasherStopped
	}
	want := []byte(hashStr)
	if hmac.Equal([]byte(hashWithKey(ip, h.currentKey, h.currentEpoch)), want) {
		return true, nil
	}
	if h.previousKey != nil && hmac.Equal([]byte(hashWithKey(ip, h.previousKey, h.currentEpoch-1)), want) {
		return true, nil
	}
	return false, nil
}

func hashWithKey(ip string, key []byte, epoch int64) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ip))
	return fmt.Sprintf("hmac-sha256:%d:%s", epoch, hex.EncodeToString(mac.Sum(nil)))
}

func (h *IPHasher) getEpoch(t time.Time) int64 {
	return t.Unix() / int64(h.rotationInterval.Seconds())
}

func (h *IPHasher) deriveKey(label string) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte("zerobin-ip:" + label))
	return mac.Sum(nil)
}

func (h *IPHasher) rotate(epoch int64) {
	current := h.deriveKey(fmt.Sprintf("epoch:%d", epoch))
	previous := h.deriveKey(fmt.Sprintf("epoch:%d", epoch-1))

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		Wipe(current)
		Wipe(previous)
		return
	}
	if h.currentKey != nil {
		Wipe(h.currentKey)
	}
	if h.previousKey != nil {
		Wipe(h.previousKey)
	}
	h.currentKey = current
	h.previousKey = previous
	h.currentEpoch = epoch
}

func (h *IPHasher) rotationLoop() {
	ticker := time.NewTicker(h.rotationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopChan:
			return
		case <-ticker.C:
			epoch := h.getEpoch(h.now())
			h.mu.RLock()
			changed := epoch != h.currentEpoch
			h.mu.RUnlock()
			if changed {
				h.rotate(epoch)
				Debug().Int64("epoch", epoch).Msg("rotated IP hasher keys")
			}
		}
	}
}

func (h *IPHasher) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	close(h.stopChan)
	for _, k := range [][]byte{h.currentKey, h.previousKey, h.fingerprintKey, h.pepper} {
		Wipe(k)
	}
	h.currentKey, h.previousKey, h.fingerprintKey, h.pepper = nil, nil, nil, nil
}
