package consensus

import (
	"errors"
	"fmt"
)

// validation failures, wrapped by ValidationError.
var (
	ErrParentMismatch    = errors.New("parent hash mismatch")
	ErrSlotNotIncreasing = errors.New("slot not greater than parent slot")
	ErrEpochMismatch     = errors.New("epoch does not match slot")
	ErrFutureSlot        = errors.New("slot is in the future")
	ErrFarFutureSlot     = errors.New("slot is too far in the future")
	ErrLeaderPKMismatch  = errors.New("leader address does not match leader public key")
	ErrNotEligible       = errors.New("leader not eligible for slot")
	ErrBadLeaderProof    = errors.New("invalid leader proof")
	ErrBadSignature      = errors.New("invalid block signature")
	ErrContentHash       = errors.New("content hash mismatch")
	ErrDuplicateTxn      = errors.New("duplicate transaction in block")
	ErrTooManyTxns       = errors.New("too many transactions in block")
	ErrEmptyTxn          = errors.New("empty transaction")
	ErrBelowFinalized    = errors.New("block does not descend from the finalized block")
	ErrKnownInvalid      = errors.New("block or its ancestor is known to be invalid")
)

var (
	// ErrCorruptFinalized is returned when the finalized chain in
	// storage is inconsistent. It is the only error fatal to the
	// node.
	ErrCorruptFinalized = errors.New("finalized chain in storage is corrupted")

	// ErrQueueClosed is returned when submitting to a stopped
	// tip manager.
	ErrQueueClosed = errors.New("candidate queue closed")
)

// ValidationError is a structural or eligibility validation failure
// of a candidate block.
type ValidationError struct {
	Block Hash
	Err   error
	// Retryable is set for conditions that may be resolved by
	// waiting, e.g., a block from a future slot.
	Retryable bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("block %v invalid: %v", e.Block, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(h Hash, err error) *ValidationError {
	return &ValidationError{Block: h, Err: err}
}

// LedgerErrorKind is the kind of ledger rule violation.
type LedgerErrorKind int

// ledger error kinds
const (
	InsufficientFunds LedgerErrorKind = iota
	DoubleSpend
	InvalidCertificate
	ExpiredValidity
	MalformedTxn
	BadTxnSignature
)

func (k LedgerErrorKind) String() string {
	switch k {
	case InsufficientFunds:
		return "insufficient funds"
	case DoubleSpend:
		return "double spend"
	case InvalidCertificate:
		return "invalid certificate"
	case ExpiredValidity:
		return "expired validity window"
	case MalformedTxn:
		return "malformed transaction"
	case BadTxnSignature:
		return "invalid transaction signature"
	default:
		return fmt.Sprintf("ledger error %d", int(k))
	}
}

// LedgerError is a violation of the ledger transition rules by one
// of the block's transactions.
type LedgerError struct {
	Kind   LedgerErrorKind
	Txn    Hash
	Index  int
	Detail string
}

func (e *LedgerError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("txn %d (%v): %v", e.Index, e.Txn, e.Kind)
	}
	return fmt.Sprintf("txn %d (%v): %v: %s", e.Index, e.Txn, e.Kind, e.Detail)
}

// TreeErrorKind is the kind of block tree insertion failure.
type TreeErrorKind int

// tree error kinds
const (
	UnknownParent TreeErrorKind = iota
	Duplicate
)

func (k TreeErrorKind) String() string {
	switch k {
	case UnknownParent:
		return "unknown parent"
	case Duplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("tree error %d", int(k))
	}
}

// TreeError is returned by the block tree insertion. UnknownParent
// means the block should be buffered as an orphan, Duplicate means
// the insertion is a no-op.
type TreeError struct {
	Kind   TreeErrorKind
	Block  Hash
	Parent Hash
}

func (e *TreeError) Error() string {
	return fmt.Sprintf("block %v (parent %v): %v", e.Block, e.Parent, e.Kind)
}

// IsUnknownParent reports whether err is a TreeError of kind
// UnknownParent.
func IsUnknownParent(err error) bool {
	var te *TreeError
	return errors.As(err, &te) && te.Kind == UnknownParent
}

// ScheduleError is returned when the epoch schedule for a slot can
// not be derived.
type ScheduleError struct {
	Epoch uint64
	// Future is set when the epoch is ahead of what the stake
	// distribution allows to compute yet, the caller should retry
	// later.
	Future bool
	Err    error
}

func (e *ScheduleError) Error() string {
	if e.Future {
		return fmt.Sprintf("schedule of epoch %d not available yet: %v", e.Epoch, e.Err)
	}
	return fmt.Sprintf("schedule of epoch %d unavailable: %v", e.Epoch, e.Err)
}

func (e *ScheduleError) Unwrap() error {
	return e.Err
}

// Rejected reports whether err means the block is rejected from
// the consensus perspective: a validation or ledger failure.
func Rejected(err error) bool {
	var ve *ValidationError
	var le *LedgerError
	return errors.As(err, &ve) || errors.As(err, &le)
}
