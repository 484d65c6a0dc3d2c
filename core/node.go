package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"salechain/core/events"
	"salechain/core/genesis"
	"salechain/core/runtime"
	"salechain/core/state"
	"salechain/core/types"
	"salechain/crypto"
	"salechain/native/sale"
	"salechain/native/system"
	"salechain/native/token"
	"salechain/observability"
	"salechain/storage"
)

// ErrNotTokenAccount is returned when a token query hits an account the
// token program does not own.
var ErrNotTokenAccount = errors.New("core: not a token account")

// Options configures a Node.
type Options struct {
	// ProgramID is where the sale program is registered. Zero selects
	// sale.DefaultProgramID.
	ProgramID crypto.Address
	Rent      runtime.Rent
	Logger    *slog.Logger
	// Emitters receive every committed event in addition to the built-in
	// metric counters.
	Emitters []events.Emitter
}

// Node is the central controller, wiring storage, state, the runtime and
// the native programs together.
type Node struct {
	db        storage.Database
	state     *state.Manager
	runtime   *runtime.Runtime
	programID crypto.Address
	logger    *slog.Logger
}

// NewNode builds a node over db and registers the native programs.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("database must not be nil")
	}
	programID := opts.ProgramID
	if programID.IsZero() {
		programID = sale.DefaultProgramID
	}
	rent := opts.Rent
	if rent.LamportsPerByte == 0 {
		rent = runtime.DefaultRent()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	emitters := events.Fanout{observability.EventCounter{}, sale.MetricsEmitter{}}
	emitters = append(emitters, opts.Emitters...)

	st := state.NewManager(db)
	rt := runtime.New(st,
		runtime.WithLogger(logger),
		runtime.WithEmitter(emitters),
		runtime.WithRent(rent),
	)
	if err := rt.Register(system.New(), token.New(), token.NewAssociated(), sale.NewProgram(programID)); err != nil {
		return nil, err
	}
	logger.Info("node ready", "saleProgram", programID.String(), "lamportsPerByte", rent.LamportsPerByte)
	return &Node{db: db, state: st, runtime: rt, programID: programID, logger: logger}, nil
}

// ApplyGenesis writes spec into an empty ledger. A ledger that already holds
// a genesis is left untouched and its record returned.
func (n *Node) ApplyGenesis(spec *genesis.GenesisSpec) (*genesis.Record, error) {
	rec, err := genesis.Apply(spec, n.state, n.programID, n.runtime.Rent())
	if errors.Is(err, genesis.ErrAlreadyApplied) {
		existing, _, getErr := genesis.Applied(n.state)
		if getErr != nil {
			return nil, getErr
		}
		n.logger.Info("genesis already applied", "network", existing.Network)
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	n.logger.Info("genesis applied", "network", rec.Network, "accounts", rec.Accounts, "mints", rec.Mints, "tokenAccounts", rec.TokenAccounts)
	return rec, nil
}

// Genesis returns the stored genesis record, if any.
func (n *Node) Genesis() (*genesis.Record, bool, error) {
	return genesis.Applied(n.state)
}

// ProgramID returns the sale program address.
func (n *Node) ProgramID() crypto.Address { return n.programID }

// Rent returns the rent schedule in force.
func (n *Node) Rent() runtime.Rent { return n.runtime.Rent() }

// SubmitTransaction executes and commits tx.
func (n *Node) SubmitTransaction(ctx context.Context, tx *types.Transaction) (*runtime.Receipt, error) {
	return n.runtime.Process(ctx, tx)
}

// SimulateTransaction executes tx without committing it.
func (n *Node) SimulateTransaction(ctx context.Context, tx *types.Transaction) (*runtime.Receipt, error) {
	return n.runtime.Simulate(ctx, tx)
}

// Account returns the committed account at addr.
func (n *Node) Account(addr crypto.Address) (*types.Account, error) {
	return n.state.Account(addr)
}

// SaleConfig returns the committed sale configuration.
func (n *Node) SaleConfig() (*sale.Config, error) {
	return sale.LoadConfig(n.state, n.programID)
}

// Quote is the answer to a price query.
type Quote struct {
	Units        uint64 `json:"units"`
	PricePerUnit uint64 `json:"pricePerUnit"`
	Payment      uint64 `json:"payment"`
	Paused       bool   `json:"paused"`
}

// Quote prices a purchase of units under the committed configuration.
func (n *Node) Quote(units uint64) (*Quote, error) {
	cfg, err := n.SaleConfig()
	if err != nil {
		return nil, err
	}
	payment, err := sale.Quote(cfg, units)
	if err != nil {
		return nil, err
	}
	return &Quote{Units: units, PricePerUnit: cfg.PricePerUnit, Payment: payment, Paused: cfg.Paused}, nil
}

// Authority returns the derived authority that signs for custody.
func (n *Node) Authority() (sale.Derived, error) {
	return sale.DeriveAuthority(n.programID)
}

// ConfigAddress returns the derived configuration address.
func (n *Node) ConfigAddress() (crypto.Address, error) {
	derived, err := sale.DeriveConfig(n.programID)
	if err != nil {
		return crypto.Address{}, err
	}
	return derived.Address, nil
}

// TokenAccount decodes the token account at addr.
func (n *Node) TokenAccount(addr crypto.Address) (*token.Account, error) {
	acc, err := n.state.Account(addr)
	if err != nil {
		return nil, err
	}
	if acc.Owner != token.ProgramID {
		return nil, fmt.Errorf("%w: %s", ErrNotTokenAccount, addr)
	}
	return token.DecodeAccount(acc.Data)
}

// Mint decodes the mint at addr.
func (n *Node) Mint(addr crypto.Address) (*token.Mint, error) {
	acc, err := n.state.Account(addr)
	if err != nil {
		return nil, err
	}
	if acc.Owner != token.ProgramID {
		return nil, fmt.Errorf("%w: %s", ErrNotTokenAccount, addr)
	}
	return token.DecodeMint(acc.Data)
}

// TokenBalance returns the balance of wallet's associated account for mint,
// zero when it has not been created yet.
func (n *Node) TokenBalance(wallet, mint crypto.Address) (crypto.Address, uint64, error) {
	ata, err := token.AssociatedAddress(wallet, mint)
	if err != nil {
		return crypto.Address{}, 0, err
	}
	acc, err := n.state.Account(ata)
	if err != nil {
		return ata, 0, err
	}
	if acc.Owner != token.ProgramID {
		return ata, 0, nil
	}
	decoded, err := token.DecodeAccount(acc.Data)
	if err != nil {
		return ata, 0, err
	}
	return ata, decoded.Amount, nil
}

// Close releases the underlying database.
func (n *Node) Close() {
	n.db.Close()
}
