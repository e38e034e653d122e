package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
)

var (
	// VerbosityFlag defines the logrus logging level.
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info=default, warn, error, fatal, panic)",
		Value: "info",
	}
	// LogFormatFlag selects the log output format.
	logFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Specify log formatting. Supports: text, json, fluentd",
		Value: "text",
	}
	// ConfigFileFlag loads flag values from a YAML file.
	configFileFlag = &cli.StringFlag{
		Name:  "config-file",
		Usage: "Filepath to a YAML file with flag values",
	}

	// Ledger tuning.
	difficultyFlag = &cli.IntFlag{
		Name:  "difficulty",
		Usage: "Leading hex zeros required on block hashes (0 disables mining)",
		Value: 2,
	}
	batchSizeFlag = &cli.IntFlag{
		Name:  "batch-size",
		Usage: "Maximum transactions per committed block",
		Value: 10,
	}
	consensusDelayMinFlag = &cli.DurationFlag{
		Name:  "consensus-delay-min",
		Usage: "Lower bound of the simulated consensus delay",
		Value: 100 * time.Millisecond,
	}
	consensusDelayMaxFlag = &cli.DurationFlag{
		Name:  "consensus-delay-max",
		Usage: "Upper bound of the simulated consensus delay",
		Value: 250 * time.Millisecond,
	}

	// Smart-contract policy.
	maxSinglePurchaseFlag = &cli.Float64Flag{
		Name:  "max-single-purchase",
		Usage: "Autonomous purchase cap in monetary units",
		Value: 50_000,
	}
	minConfidenceFlag = &cli.Float64Flag{
		Name:  "min-confidence",
		Usage: "Minimum agent confidence accepted without human approval",
		Value: 0.70,
	}

	// Coordination engine.
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Wall-clock budget of one coordination session",
		Value: 30 * time.Second,
	}
	maxRoundsFlag = &cli.IntFlag{
		Name:  "max-rounds",
		Usage: "Maximum negotiation rounds per session",
		Value: 3,
	}

	// Demo scenario.
	itemFlag = &cli.StringFlag{
		Name:  "item",
		Usage: "Item to coordinate a purchase for",
		Value: "PPE Equipment",
	}
	requiredQuantityFlag = &cli.IntFlag{
		Name:  "required-quantity",
		Usage: "Units the initiator wants to order",
		Value: 1000,
	}
	pricePerUnitFlag = &cli.Float64Flag{
		Name:  "price-per-unit",
		Usage: "Unit price of the item",
		Value: 2.00,
	}
	budgetRemainingFlag = &cli.Float64Flag{
		Name:  "budget-remaining",
		Usage: "Budget available to the financial agent",
		Value: 2000,
	}
	storageAvailableFlag = &cli.IntFlag{
		Name:  "storage-available",
		Usage: "Storage units available to the facility agent",
		Value: 800,
	}
	urgencyFlag = &cli.StringFlag{
		Name:  "urgency",
		Usage: "Scenario urgency (low, medium, high)",
		Value: "medium",
	}
)

// wrapFlags makes every flag loadable from --config-file via altsrc.
func wrapFlags(flags []cli.Flag) []cli.Flag {
	wrapped := make([]cli.Flag, 0, len(flags))
	for _, f := range flags {
		switch t := f.(type) {
		case *cli.BoolFlag:
			f = altsrc.NewBoolFlag(t)
		case *cli.DurationFlag:
			f = altsrc.NewDurationFlag(t)
		case *cli.Float64Flag:
			f = altsrc.NewFloat64Flag(t)
		case *cli.IntFlag:
			f = altsrc.NewIntFlag(t)
		case *cli.StringFlag:
			f = altsrc.NewStringFlag(t)
		default:
			panic(fmt.Sprintf("cannot convert type %T", f))
		}
		wrapped = append(wrapped, f)
	}
	return wrapped
}
