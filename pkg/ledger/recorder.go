package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"yieldroute/pkg/types"
)

// RecordStatus is the lifecycle state of a leg record. A record is
// created PENDING before any network call and transitions exactly once
// to CONFIRMED or FAILED.
type RecordStatus string

const (
	StatusPending   RecordStatus = "pending"
	StatusConfirmed RecordStatus = "confirmed"
	StatusFailed    RecordStatus = "failed"
)

// ErrAlreadyTerminal is returned when a second transition is attempted
// on a record that already reached a terminal state.
var ErrAlreadyTerminal = errors.New("ledger record already in a terminal state")

// Record is one leg's durable execution record.
type Record struct {
	ID            string       `json:"id"`
	PlanID        string       `json:"plan_id"`
	LegIndex      int          `json:"leg_index"`
	WalletID      string       `json:"wallet_id"`
	Token         string       `json:"token"`
	Chain         types.Chain  `json:"chain"`
	Protocol      string       `json:"protocol"`
	Amount        types.Amount `json:"amount"`
	Status        RecordStatus `json:"status"`
	TxHash        string       `json:"tx_hash,omitempty"`
	SharesBefore  types.Amount `json:"shares_before"`
	SharesAfter   types.Amount `json:"shares_after"`
	SharesDelta   types.Amount `json:"shares_delta"`
	GasUsed       uint64       `json:"gas_used"`
	ErrCode       string       `json:"err_code,omitempty"`
	ErrMessage    string       `json:"err_message,omitempty"`
	RetryEligible bool         `json:"retry_eligible"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// BridgeTransfer records a confirmed cross-chain transfer. Once written
// it is permanent: a later failure of the destination deposit never
// reverts it, because the funds have already left the source chain.
type BridgeTransfer struct {
	ID             string       `json:"id"`
	LegRecordID    string       `json:"leg_record_id"`
	FromChain      types.Chain  `json:"from_chain"`
	ToChain        types.Chain  `json:"to_chain"`
	Token          string       `json:"token"`
	Amount         types.Amount `json:"amount"`
	RelayMessageID string       `json:"relay_message_id,omitempty"`
	TxHash         string       `json:"tx_hash"`
	ConfirmedAt    time.Time    `json:"confirmed_at"`
}

const recordColumns = `id, plan_id, leg_index, wallet_id, token, chain, protocol, amount, status,
	tx_hash, shares_before, shares_after, shares_delta, gas_used, err_code, err_message,
	retry_eligible, created_at, updated_at`

// Recorder manages leg record lifecycle and share accounting on top of
// the ledger database.
type Recorder struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRecorder creates a recorder over an open ledger database.
func NewRecorder(db *sql.DB, log zerolog.Logger) *Recorder {
	return &Recorder{
		db:  db,
		log: log.With().Str("component", "ledger").Logger(),
	}
}

// CreatePending inserts a new PENDING record for a leg and returns it.
// Must be called before any network call for the leg.
func (r *Recorder) CreatePending(planID string, legIndex int, walletID, token string, chain types.Chain, protocol string, amount types.Amount) (*Record, error) {
	now := time.Now().UTC()
	rec := &Record{
		ID:        uuid.NewString(),
		PlanID:    planID,
		LegIndex:  legIndex,
		WalletID:  walletID,
		Token:     token,
		Chain:     chain,
		Protocol:  protocol,
		Amount:    amount.Clone(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := r.db.Exec(`
		INSERT INTO leg_records
		(id, plan_id, leg_index, wallet_id, token, chain, protocol, amount, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PlanID, rec.LegIndex, rec.WalletID, rec.Token, string(rec.Chain),
		rec.Protocol, rec.Amount.String(), string(rec.Status), now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending record: %w", err)
	}

	r.log.Debug().
		Str("record_id", rec.ID).
		Str("plan_id", planID).
		Int("leg_index", legIndex).
		Str("token", token).
		Msg("Ledger record created")
	return rec, nil
}

// Confirm transitions a PENDING record to CONFIRMED. The shares delta
// is always after minus before as observed on chain, never the amount
// that was requested, so protocol fees and partial fills are reflected.
func (r *Recorder) Confirm(rec *Record, txHash string, sharesBefore, sharesAfter types.Amount, gasUsed uint64) error {
	delta := new(big.Int).Sub(sharesAfter.Int, sharesBefore.Int)
	now := time.Now().UTC()

	res, err := r.db.Exec(`
		UPDATE leg_records
		SET status = ?, tx_hash = ?, shares_before = ?, shares_after = ?, shares_delta = ?,
		    gas_used = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusConfirmed), txHash, sharesBefore.String(), sharesAfter.String(),
		delta.String(), gasUsed, now.Unix(), rec.ID, string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to confirm record %s: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyTerminal
	}

	rec.Status = StatusConfirmed
	rec.TxHash = txHash
	rec.SharesBefore = sharesBefore.Clone()
	rec.SharesAfter = sharesAfter.Clone()
	rec.SharesDelta = types.NewAmount(delta)
	rec.GasUsed = gasUsed
	rec.UpdatedAt = now

	r.log.Info().
		Str("record_id", rec.ID).
		Str("tx_hash", txHash).
		Str("shares_delta", delta.String()).
		Msg("Ledger record confirmed")
	return nil
}

// Fail transitions a PENDING record to FAILED with the captured error.
func (r *Recorder) Fail(rec *Record, txHash, errCode, errMessage string, retryEligible bool) error {
	now := time.Now().UTC()
	res, err := r.db.Exec(`
		UPDATE leg_records
		SET status = ?, tx_hash = ?, err_code = ?, err_message = ?, retry_eligible = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusFailed), txHash, errCode, errMessage, boolToInt(retryEligible),
		now.Unix(), rec.ID, string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to fail record %s: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyTerminal
	}

	rec.Status = StatusFailed
	rec.TxHash = txHash
	rec.ErrCode = errCode
	rec.ErrMessage = errMessage
	rec.RetryEligible = retryEligible
	rec.UpdatedAt = now

	r.log.Warn().
		Str("record_id", rec.ID).
		Str("err_code", errCode).
		Bool("retry_eligible", retryEligible).
		Msg("Ledger record failed")
	return nil
}

// RecordBridgeTransfer durably records a source-chain-confirmed bridge
// transfer tied to a leg record.
func (r *Recorder) RecordBridgeTransfer(legRecordID string, fromChain, toChain types.Chain, token string, amount types.Amount, relayMessageID, txHash string) (*BridgeTransfer, error) {
	now := time.Now().UTC()
	bt := &BridgeTransfer{
		ID:             uuid.NewString(),
		LegRecordID:    legRecordID,
		FromChain:      fromChain,
		ToChain:        toChain,
		Token:          token,
		Amount:         amount.Clone(),
		RelayMessageID: relayMessageID,
		TxHash:         txHash,
		ConfirmedAt:    now,
	}

	_, err := r.db.Exec(`
		INSERT INTO bridge_transfers
		(id, leg_record_id, from_chain, to_chain, token, amount, relay_message_id, tx_hash, confirmed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bt.ID, bt.LegRecordID, string(bt.FromChain), string(bt.ToChain), bt.Token,
		bt.Amount.String(), bt.RelayMessageID, bt.TxHash, now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record bridge transfer: %w", err)
	}

	r.log.Info().
		Str("transfer_id", bt.ID).
		Str("from_chain", string(fromChain)).
		Str("to_chain", string(toChain)).
		Str("tx_hash", txHash).
		Msg("Bridge transfer recorded")
	return bt, nil
}

// ListByPlan returns all leg records for a plan ordered by leg index.
func (r *Recorder) ListByPlan(planID string) ([]*Record, error) {
	return r.query(`SELECT `+recordColumns+` FROM leg_records WHERE plan_id = ? ORDER BY leg_index`, planID)
}

// ListPending returns records still awaiting a terminal state, oldest
// first. Used on restart to discover interrupted work.
func (r *Recorder) ListPending() ([]*Record, error) {
	return r.query(`SELECT `+recordColumns+` FROM leg_records WHERE status = ? ORDER BY created_at`, string(StatusPending))
}

// ListRetryEligible returns failed records flagged for retry.
func (r *Recorder) ListRetryEligible() ([]*Record, error) {
	return r.query(`SELECT `+recordColumns+` FROM leg_records WHERE status = ? AND retry_eligible = 1 ORDER BY created_at`, string(StatusFailed))
}

// TransfersForLeg returns the bridge transfers recorded for a leg.
func (r *Recorder) TransfersForLeg(legRecordID string) ([]*BridgeTransfer, error) {
	rows, err := r.db.Query(`
		SELECT id, leg_record_id, from_chain, to_chain, token, amount, relay_message_id, tx_hash, confirmed_at
		FROM bridge_transfers WHERE leg_record_id = ? ORDER BY created_at`, legRecordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bridge transfers: %w", err)
	}
	defer rows.Close()

	var out []*BridgeTransfer
	for rows.Next() {
		bt := &BridgeTransfer{}
		var fromChain, toChain, amount string
		var relayID sql.NullString
		var confirmedAt int64
		if err := rows.Scan(&bt.ID, &bt.LegRecordID, &fromChain, &toChain, &bt.Token,
			&amount, &relayID, &bt.TxHash, &confirmedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bridge transfer: %w", err)
		}
		bt.FromChain = types.Chain(fromChain)
		bt.ToChain = types.Chain(toChain)
		amt, err := types.ParseAmount(amount)
		if err != nil {
			return nil, fmt.Errorf("corrupt transfer amount %q: %w", amount, err)
		}
		bt.Amount = amt
		bt.RelayMessageID = relayID.String
		bt.ConfirmedAt = time.Unix(confirmedAt, 0).UTC()
		out = append(out, bt)
	}
	return out, rows.Err()
}

func (r *Recorder) query(q string, args ...any) ([]*Record, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leg records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(rows *sql.Rows) (*Record, error) {
	rec := &Record{}
	var chain, status, amount string
	var txHash, sharesBefore, sharesAfter, sharesDelta, errCode, errMessage sql.NullString
	var gasUsed int64
	var retryEligible int
	var createdAt, updatedAt int64

	if err := rows.Scan(&rec.ID, &rec.PlanID, &rec.LegIndex, &rec.WalletID, &rec.Token,
		&chain, &rec.Protocol, &amount, &status, &txHash, &sharesBefore, &sharesAfter,
		&sharesDelta, &gasUsed, &errCode, &errMessage, &retryEligible, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan leg record: %w", err)
	}

	rec.Chain = types.Chain(chain)
	rec.Status = RecordStatus(status)
	amt, err := types.ParseAmount(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt record amount %q: %w", amount, err)
	}
	rec.Amount = amt
	rec.TxHash = txHash.String
	rec.SharesBefore = parseNullAmount(sharesBefore)
	rec.SharesAfter = parseNullAmount(sharesAfter)
	rec.SharesDelta = parseNullAmount(sharesDelta)
	rec.GasUsed = uint64(gasUsed)
	rec.ErrCode = errCode.String
	rec.ErrMessage = errMessage.String
	rec.RetryEligible = retryEligible != 0
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return rec, nil
}

func parseNullAmount(s sql.NullString) types.Amount {
	if !s.Valid || s.String == "" {
		return types.Amount{}
	}
	v, ok := new(big.Int).SetString(s.String, 10)
	if !ok {
		return types.Amount{}
	}
	return types.Amount{Int: v}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
