package chainbets

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"fanpool/internal/models"
)

// BetPlacedABI is the pool contract event carrying one on-chain stake.
const BetPlacedABI = `[{"anonymous":false,"type":"event","name":"BetPlaced","inputs":[
{"indexed":true,"name":"poolId","type":"bytes32"},
{"indexed":true,"name":"bettor","type":"address"},
{"indexed":false,"name":"optionId","type":"bytes32"},
{"indexed":false,"name":"amount","type":"uint256"}]}]`

var (
	ErrNotBetPlaced = errors.New("log is not a BetPlaced event")
	ErrWrongEmitter = errors.New("log emitted by another contract")
	ErrRemovedLog   = errors.New("log was removed by a reorg")
	ErrInvalidStake = errors.New("stake amount out of range")
)

var maxStake = big.NewInt(models.MaxBetAmount)

// Decoder turns raw BetPlaced logs into ledger bets.
type Decoder struct {
	contract common.Address
	event    abi.Event
}

// NewDecoder accepts logs from contract, or from any emitter when contract
// is empty.
func NewDecoder(contract string) (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(BetPlacedABI))
	if err != nil {
		return nil, err
	}
	d := &Decoder{event: parsed.Events["BetPlaced"]}
	if contract = strings.TrimSpace(contract); contract != "" {
		if !common.IsHexAddress(contract) {
			return nil, fmt.Errorf("invalid contract address %q", contract)
		}
		d.contract = common.HexToAddress(contract)
	}
	return d, nil
}

func (d *Decoder) EventID() common.Hash {
	return d.event.ID
}

func (d *Decoder) Decode(log types.Log) (models.Bet, error) {
	if log.Removed {
		return models.Bet{}, ErrRemovedLog
	}
	if len(log.Topics) != 3 || log.Topics[0] != d.event.ID {
		return models.Bet{}, ErrNotBetPlaced
	}
	if d.contract != (common.Address{}) && log.Address != d.contract {
		return models.Bet{}, fmt.Errorf("%w: %s", ErrWrongEmitter, log.Address.Hex())
	}

	indexed := map[string]any{}
	var indexedArgs abi.Arguments
	for _, arg := range d.event.Inputs {
		if arg.Indexed {
			indexedArgs = append(indexedArgs, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(indexed, indexedArgs, log.Topics[1:]); err != nil {
		return models.Bet{}, fmt.Errorf("decode topics: %w", err)
	}
	values, err := d.event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return models.Bet{}, fmt.Errorf("decode data: %w", err)
	}
	if len(values) != 2 {
		return models.Bet{}, fmt.Errorf("decode data: %d values", len(values))
	}

	poolID, _ := indexed["poolId"].([32]byte)
	bettor, _ := indexed["bettor"].(common.Address)
	optionID, _ := values[0].([32]byte)
	amount, _ := values[1].(*big.Int)
	if amount == nil || amount.Sign() <= 0 || amount.Cmp(maxStake) > 0 {
		return models.Bet{}, fmt.Errorf("%w: %v", ErrInvalidStake, amount)
	}

	ref := SourceRef(log)
	bet := models.Bet{
		ID:            uuid.NewSHA1(uuid.NameSpaceOID, []byte(ref)).String(),
		PoolID:        bytes32String(poolID),
		ParticipantID: strings.ToLower(bettor.Hex()),
		OptionID:      bytes32String(optionID),
		Amount:        amount.Int64(),
		SourceRef:     &ref,
	}
	if bet.PoolID == "" || bet.OptionID == "" {
		return models.Bet{}, fmt.Errorf("%w: empty pool or option id", ErrNotBetPlaced)
	}
	return bet, nil
}

// SourceRef identifies a log across re-deliveries.
func SourceRef(log types.Log) string {
	return fmt.Sprintf("%s:%d", log.TxHash.Hex(), log.Index)
}

// bytes32String reads a right-zero-padded ASCII id.
func bytes32String(b [32]byte) string {
	return string(bytes.TrimRight(b[:], "\x00"))
}

// Bytes32 pads an id into the on-chain representation.
func Bytes32(s string) [32]byte {
	var out [32]byte
	copy(out[:], s)
	return out
}
