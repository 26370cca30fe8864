package wallet

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// State is the connection state of a session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Snapshot is a read-only view of a session. Account is set only while the
// session is connected.
type Snapshot struct {
	ID        string          `json:"id"`
	State     State           `json:"state"`
	Account   *common.Address `json:"account,omitempty"`
	ChainID   *big.Int        `json:"chain_id,omitempty"`
	Err       string          `json:"error,omitempty"`
	ErrCode   string          `json:"error_code,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Connected reports whether the snapshot holds a usable account.
func (s Snapshot) Connected() bool {
	return s.State == StateConnected && s.Account != nil
}

// Change is delivered to listeners on every state transition.
type Change struct {
	Previous Snapshot `json:"previous"`
	Current  Snapshot `json:"current"`
	Reason   string   `json:"reason"`
}

// core is the mutable part of a session, guarded by Session.mu.
type core struct {
	state     State
	account   common.Address
	chainID   *big.Int
	err       error
	updatedAt time.Time
}

func (c core) equal(other core) bool {
	if c.state != other.state || c.account != other.account {
		return false
	}
	if (c.chainID == nil) != (other.chainID == nil) {
		return false
	}
	if c.chainID != nil && c.chainID.Cmp(other.chainID) != 0 {
		return false
	}
	return errString(c.err) == errString(other.err)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
