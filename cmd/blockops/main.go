// Package main defines the blockops command line tool: a demo driver for
// the coordination-and-ledger core that registers the three rule-based
// hospital agents, runs a full negotiation over a scenario described by
// flags, and prints the resulting transcript, chain, and statistics.
package main

import (
	"context"
	"fmt"
	"os"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/blockopslabs/blockops/agent"
	"github.com/blockopslabs/blockops/contract"
	"github.com/blockopslabs/blockops/coordination"
	"github.com/blockopslabs/blockops/ledger"
	blockopsprometheus "github.com/blockopslabs/blockops/monitoring/prometheus"
	"github.com/blockopslabs/blockops/runtime/version"
)

var log = logrus.WithField("prefix", "main")

var appFlags = wrapFlags([]cli.Flag{
	verbosityFlag,
	logFormatFlag,
	configFileFlag,
	difficultyFlag,
	batchSizeFlag,
	consensusDelayMinFlag,
	consensusDelayMaxFlag,
	maxSinglePurchaseFlag,
	minConfidenceFlag,
	timeoutFlag,
	maxRoundsFlag,
	itemFlag,
	requiredQuantityFlag,
	pricePerUnitFlag,
	budgetRemainingFlag,
	storageAvailableFlag,
	urgencyFlag,
})

func main() {
	app := cli.App{}
	app.Name = "blockops"
	app.Usage = "multi-agent hospital operations coordination over an append-only ledger"
	app.Version = version.GetVersion()
	app.Flags = appFlags
	app.CustomAppHelpTemplate = appHelpTemplate
	app.Commands = []*cli.Command{
		{
			Name:   "demo",
			Usage:  "run one coordinated purchase negotiation and print the outcome",
			Flags:  appFlags,
			Action: runDemo,
		},
		{
			Name:  "version",
			Usage: "print the blockops version",
			Action: func(_ *cli.Context) error {
				fmt.Println(version.GetVersion())
				return nil
			},
		},
	}
	app.Before = func(ctx *cli.Context) error {
		// Load any flags from file, if specified.
		if ctx.IsSet(configFileFlag.Name) {
			if err := altsrc.InitInputSourceWithContext(
				appFlags,
				altsrc.NewYamlSourceFromFlagFunc(configFileFlag.Name))(ctx); err != nil {
				return err
			}
		}

		level, err := logrus.ParseLevel(ctx.String(verbosityFlag.Name))
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
		logrus.AddHook(blockopsprometheus.NewLogrusCollector())

		switch format := ctx.String(logFormatFlag.Name); format {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			logrus.SetFormatter(formatter)
		case "fluentd":
			logrus.SetFormatter(joonix.NewFormatter())
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		default:
			return fmt.Errorf("unknown log format %s", format)
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func runDemo(cliCtx *cli.Context) error {
	validator := contract.NewValidator(&contract.Config{
		MaxSinglePurchase: cliCtx.Float64(maxSinglePurchaseFlag.Name),
		MinConfidence:     cliCtx.Float64(minConfidenceFlag.Name),
	})
	chain, err := ledger.NewLedger(&ledger.Config{
		BatchSize:         cliCtx.Int(batchSizeFlag.Name),
		Difficulty:        cliCtx.Int(difficultyFlag.Name),
		ConsensusDelayMin: cliCtx.Duration(consensusDelayMinFlag.Name),
		ConsensusDelayMax: cliCtx.Duration(consensusDelayMaxFlag.Name),
		Validator:         validator,
	})
	if err != nil {
		return err
	}

	registry := agent.NewRegistry()
	supplyChain := agent.NewSupplyChainAgent("SC")
	for _, a := range []agent.ReasoningAgent{
		supplyChain,
		agent.NewFinancialAgent("FIN"),
		agent.NewFacilityAgent("FAC"),
	} {
		if err := registry.Register(a); err != nil {
			return err
		}
	}

	engine, err := coordination.NewEngine(&coordination.Config{
		Registry:  registry,
		Ledger:    chain,
		Validator: validator,
		Timeout:   cliCtx.Duration(timeoutFlag.Name),
		MaxRounds: cliCtx.Int(maxRoundsFlag.Name),
	})
	if err != nil {
		return err
	}

	budget := cliCtx.Float64(budgetRemainingFlag.Name)
	storage := int64(cliCtx.Int(storageAvailableFlag.Name))
	spec := &coordination.ScenarioSpec{
		Initiator:    "SC",
		Participants: []string{"SC", "FIN", "FAC"},
		Intent:       fmt.Sprintf("Order %d units of %s", cliCtx.Int(requiredQuantityFlag.Name), cliCtx.String(itemFlag.Name)),
		Context: &agent.ScenarioContext{
			Item:             cliCtx.String(itemFlag.Name),
			RequiredQuantity: int64(cliCtx.Int(requiredQuantityFlag.Name)),
			PricePerUnit:     cliCtx.Float64(pricePerUnitFlag.Name),
			BudgetRemaining:  &budget,
			StorageAvailable: &storage,
			Urgency:          cliCtx.String(urgencyFlag.Name),
		},
	}

	session, err := engine.Coordinate(context.Background(), spec)
	if err != nil {
		return err
	}
	printSession(session)
	printChain(chain)
	printTrace(supplyChain)
	return nil
}

func printSession(session *coordination.Session) {
	log.WithFields(logrus.Fields{
		"session": session.ID,
		"state":   session.State,
		"rounds":  len(session.Rounds),
	}).Info("Session finished")
	for _, msg := range session.Messages {
		log.WithFields(logrus.Fields{
			"id":     msg.ID,
			"sender": msg.Sender,
			"kind":   msg.Kind,
		}).Info("Transcript")
	}
	for _, round := range session.Rounds {
		log.WithFields(logrus.Fields{
			"round":    round.Number,
			"quantity": round.Proposal.Quantity,
			"cost":     round.Proposal.Cost,
		}).Info("Negotiation round")
	}
	if session.Receipt != nil {
		log.WithFields(logrus.Fields{
			"tx":    session.Receipt.TransactionID,
			"block": session.Receipt.BlockIndex,
			"hash":  session.Receipt.BlockHash,
		}).Info("Ledger receipt")
	}
	if session.FailureCode != "" {
		log.WithFields(logrus.Fields{
			"code":   session.FailureCode,
			"reason": session.FailureReason,
		}).Warn("Session did not complete")
	}
}

func printChain(chain *ledger.Ledger) {
	for _, block := range chain.GetBlocks(0, int(chain.Height())+1) {
		log.WithFields(logrus.Fields{
			"index":        block.Index,
			"hash":         block.Hash,
			"previousHash": block.PreviousHash,
			"nonce":        block.Nonce,
			"payload":      block.Payload.Type,
		}).Info("Block")
	}
	stats := chain.Stats()
	log.WithFields(logrus.Fields{
		"blocks":       stats.TotalBlocks,
		"transactions": stats.TotalTransactions,
		"pending":      stats.PendingTransactions,
		"rejected":     stats.RejectedTransactions,
		"chainValid":   stats.ChainValid,
	}).Info("Ledger stats")
	report := chain.Validate()
	if report.Valid {
		log.WithField("blocksChecked", report.BlocksChecked).Info("Chain validation passed")
		return
	}
	for _, msg := range report.Errors {
		log.WithField("error", msg).Error("Chain validation error")
	}
}

func printTrace(a *agent.SupplyChainAgent) {
	for _, decision := range a.ReasoningTrace(5) {
		log.WithFields(logrus.Fields{
			"agent":  decision.Agent,
			"method": decision.Method,
		}).Debug(decision.Summary)
	}
}
