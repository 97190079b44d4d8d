package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// SystemTransfer is a decoded System Program transfer instruction.
type SystemTransfer struct {
	From     solana.PublicKey
	To       solana.PublicKey
	Lamports uint64
}

// parseFinalizedTransaction flattens a GetTransaction result into the account
// and balance view used for reconciliation.
func parseFinalizedTransaction(sig solana.Signature, result *rpc.GetTransactionResult) (*FinalizedTransaction, error) {
	if result == nil || result.Transaction == nil {
		return nil, fmt.Errorf("transaction body missing from ledger response")
	}
	if result.Meta == nil {
		return nil, fmt.Errorf("transaction meta missing from ledger response")
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	// Versioned transactions list static keys first, then writable and
	// read-only addresses loaded from lookup tables.
	keys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys)+
		len(result.Meta.LoadedAddresses.Writable)+len(result.Meta.LoadedAddresses.ReadOnly))
	keys = append(keys, tx.Message.AccountKeys...)
	keys = append(keys, result.Meta.LoadedAddresses.Writable...)
	keys = append(keys, result.Meta.LoadedAddresses.ReadOnly...)

	if len(result.Meta.PreBalances) != len(keys) || len(result.Meta.PostBalances) != len(keys) {
		return nil, fmt.Errorf("balance arrays do not match account keys: keys=%d pre=%d post=%d",
			len(keys), len(result.Meta.PreBalances), len(result.Meta.PostBalances))
	}

	txn := &FinalizedTransaction{
		Signature:    sig.String(),
		Slot:         result.Slot,
		AccountKeys:  keys,
		PreBalances:  result.Meta.PreBalances,
		PostBalances: result.Meta.PostBalances,
		Fee:          result.Meta.Fee,
		Transfers:    SystemTransfers(tx),
	}
	if len(keys) > 0 {
		txn.FeePayer = keys[0]
	}
	if result.BlockTime != nil {
		t := result.BlockTime.Time()
		txn.BlockTime = &t
	}
	if result.Meta.Err != nil {
		msg := fmt.Sprintf("transaction failed: %v", result.Meta.Err)
		txn.Err = &msg
	}

	return txn, nil
}

// SystemTransfers decodes every top-level System Program transfer in a transaction.
// Instructions that are not transfers are skipped.
func SystemTransfers(tx *solana.Transaction) []SystemTransfer {
	keys := tx.Message.AccountKeys
	var out []SystemTransfer
	for _, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(keys) || !keys[ix.ProgramIDIndex].Equals(solana.SystemProgramID) {
			continue
		}
		t, err := parseSystemTransfer(ix, keys)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

// parseSystemTransfer extracts a System Program Transfer instruction.
// Data layout: [0..4] instruction type (u32 = 2), [4..12] lamports (u64).
// Accounts: [from, to].
func parseSystemTransfer(ix solana.CompiledInstruction, keys []solana.PublicKey) (SystemTransfer, error) {
	if len(ix.Data) < 12 {
		return SystemTransfer{}, fmt.Errorf("instruction data too short: %d bytes", len(ix.Data))
	}
	if kind := binary.LittleEndian.Uint32(ix.Data[0:4]); kind != SystemProgramTransferInstruction {
		return SystemTransfer{}, fmt.Errorf("not a transfer instruction: type %d", kind)
	}
	if len(ix.Accounts) < 2 || int(ix.Accounts[0]) >= len(keys) || int(ix.Accounts[1]) >= len(keys) {
		return SystemTransfer{}, fmt.Errorf("transfer instruction references unknown accounts")
	}
	return SystemTransfer{
		From:     keys[ix.Accounts[0]],
		To:       keys[ix.Accounts[1]],
		Lamports: binary.LittleEndian.Uint64(ix.Data[4:12]),
	}, nil
}
