package commands

import (
	"strconv"
	"strings"

	"github.com/Luismorlan/utxo_chain/errors"
)

type Operation int

const (
	DEFAULT Operation = iota
	// Start or resume a miner by index.
	START
	// Pause a miner, abandoning its current search.
	PAUSE
	// Stop a miner for good.
	STOP
	// Pay an amount to an address from the node wallet.
	PAY
	// Print the node wallet balance.
	BALANCE
	// List the node wallet addresses.
	ACCOUNTS
	// Add a fresh account to the node wallet.
	NEW_ACCOUNT
	// Show the last blocks of the chain.
	SHOW
)

var operationNames = map[string]Operation{
	"start":       START,
	"pause":       PAUSE,
	"stop":        STOP,
	"pay":         PAY,
	"balance":     BALANCE,
	"accounts":    ACCOUNTS,
	"new_account": NEW_ACCOUNT,
	"show":        SHOW,
}

func (o Operation) String() string {
	for name, op := range operationNames {
		if op == o {
			return name
		}
	}
	return "default"
}

// A command contains a operation and its arguments.
type Command struct {
	Op   Operation
	Args []string
}

func (c Command) IsValid() bool {
	switch c.Op {
	case START, PAUSE, STOP, SHOW:
		if len(c.Args) != 1 {
			return false
		}
		// miner index or depth must be a non negative number.
		n, err := strconv.Atoi(c.Args[0])
		return err == nil && n >= 0
	case PAY:
		if len(c.Args) != 2 {
			return false
		}
		amount, err := strconv.ParseUint(c.Args[0], 10, 64)
		return err == nil && amount > 0 && c.Args[1] != ""
	case BALANCE, ACCOUNTS, NEW_ACCOUNT:
		return len(c.Args) == 0
	default:
		return false
	}
}

// IntArg returns argument i as an int. Only meaningful on a valid command.
func (c Command) IntArg(i int) int {
	n, _ := strconv.Atoi(c.Args[i])
	return n
}

// Amount returns the amount of a PAY command.
func (c Command) Amount() uint64 {
	amount, _ := strconv.ParseUint(c.Args[0], 10, 64)
	return amount
}

// CreateCommand parses a line such as "pay 10 <address>".
func CreateCommand(s string) (Command, error) {
	ss := strings.Fields(s)
	if len(ss) == 0 {
		return Command{}, errors.NewInvalidArgumentError("command is empty")
	}

	op, ok := operationNames[strings.ToLower(ss[0])]
	if !ok {
		return Command{}, errors.NewInvalidArgumentError("unknown command %q", ss[0])
	}

	cmd := Command{Op: op, Args: ss[1:]}
	if !cmd.IsValid() {
		return Command{}, errors.NewInvalidArgumentError("invalid arguments for %s: %v", op, cmd.Args)
	}

	return cmd, nil
}
