package admin

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// SaveAction is the nonce action for the settings form.
const SaveAction = "save_sphinx_options"

// Nonces issues and verifies time-bucketed anti-forgery tokens. A token is
// valid for the tick it was issued in and the following one, so it lives
// between half a lifetime and a full lifetime.
type Nonces struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// NewNonces creates a nonce issuer. An empty secret is replaced by a random
// one, which invalidates outstanding nonces on restart.
func NewNonces(secret string, lifetime time.Duration) *Nonces {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	if lifetime <= 0 {
		lifetime = 24 * time.Hour
	}
	return &Nonces{secret: key, lifetime: lifetime, now: time.Now}
}

func (n *Nonces) tick() int64 {
	half := int64(n.lifetime / 2)
	if half <= 0 {
		half = 1
	}
	return n.now().UnixNano()/half + 1
}

func (n *Nonces) sign(tick int64, action string) string {
	mac := hmac.New(sha256.New, n.secret)
	mac.Write([]byte(strconv.FormatInt(tick, 10)))
	mac.Write([]byte{'|'})
	mac.Write([]byte(action))
	return hex.EncodeToString(mac.Sum(nil))[:20]
}

// Create returns a nonce for action.
func (n *Nonces) Create(action string) string {
	return n.sign(n.tick(), action)
}

// Verify reports whether nonce was issued for action in the current or the
// previous tick.
func (n *Nonces) Verify(nonce, action string) bool {
	if nonce == "" {
		return false
	}
	t := n.tick()
	for _, tick := range []int64{t, t - 1} {
		if hmac.Equal([]byte(nonce), []byte(n.sign(tick, action))) {
			return true
		}
	}
	return false
}
