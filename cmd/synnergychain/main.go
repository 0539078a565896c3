// Command synnergychain is the node's single entrypoint: a cobra root
// command in the same shape as the teacher's cmd/synnergy/main.go, with a
// sync.Once-guarded startup middleware modeled on cmd/cli/coin.go's
// coinInitMiddleware, wiring the ledger, miner wallet, miner, node and P2P
// gossip server together before any subcommand runs; the daemon subcommand
// adds the JSON-RPC transport on top.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"synnergychain/core"
	"synnergychain/internal/p2p"
	"synnergychain/internal/pidfile"
	"synnergychain/internal/rpc"
	"synnergychain/pkg/config"
	"synnergychain/pkg/utils"
)

var (
	initOnce sync.Once
	initErr  error

	appCfg     config.Config
	appLog     = logrus.StandardLogger()
	appLedger  *core.Ledger
	appMempool *core.Mempool
	appMiner   *core.Miner
	appNode    *core.Node
	appP2P     *p2p.Server
)

func main() {
	root := &cobra.Command{
		Use:               "synnergychain",
		Short:             "single-currency UTXO node",
		PersistentPreRunE: initMiddleware,
	}
	root.AddCommand(walletCmd(), chainCmd(), mineCmd(), nodeCmd(), daemonCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
}

// initMiddleware brings up every long-lived component exactly once, no
// matter which subcommand is run, mirroring coin.go's init-on-first-use
// pattern: a wallet-only invocation still needs a ledger to read UTXOs
// from, and a daemon invocation needs the same ledger plus the transport
// layers on top of it.
func initMiddleware(cmd *cobra.Command, args []string) error {
	initOnce.Do(func() {
		if lvl, err := logrus.ParseLevel(utils.EnvOrDefault("LOG_LEVEL", "info")); err == nil {
			appLog.SetLevel(lvl)
		}

		appCfg = config.Load()

		appLedger, initErr = core.OpenLedger(appCfg.DBPath, appCfg.PersistedChainPath, appLog)
		if initErr != nil {
			initErr = fmt.Errorf("open ledger: %w", initErr)
			return
		}

		appMempool = core.NewMempool()

		minerAddr, err := minerAddress()
		if err != nil {
			initErr = fmt.Errorf("miner wallet: %w", err)
			return
		}

		appMiner = core.NewMiner(appLedger, appMempool, minerAddr, appCfg.MaxMiningAttempts, appLog)
		appNode = core.NewNode(appLedger, appMempool, appMiner, appLog)

		rehydrateMempool()

		appP2P = p2p.NewServer(appNode, fmt.Sprintf(":%d", appCfg.P2PPort), appLog)
		appNode.SetBroadcaster(appP2P)
	})
	return initErr
}

// minerAddress loads the miner's keystore, creating a fresh one on first
// run so a brand new node can start mining without any manual setup step.
func minerAddress() (core.Address, error) {
	var seed []byte
	var err error
	if _, statErr := os.Stat(appCfg.MinerWalletSeedPath); errors.Is(statErr, os.ErrNotExist) {
		seed, err = core.CreateKeystore(appCfg.MinerWalletPassword, appCfg.MinerWalletSeedPath)
	} else {
		seed, err = core.LoadKeystore(appCfg.MinerWalletPassword, appCfg.MinerWalletSeedPath)
	}
	if err != nil {
		return "", err
	}
	w := core.NewWallet(seed, appLedger.Store(), appLog)
	return w.ReceiveAddress()
}

// rehydrateMempool re-admits every transaction the ledger store still
// carries as unconfirmed across a restart, so a crash or clean shutdown
// never silently drops pending transfers.
func rehydrateMempool() {
	pending, err := appLedger.Store().GetMempoolTransactions()
	if err != nil {
		appLog.Warnf("startup: could not read persisted mempool: %v", err)
		return
	}
	for _, tx := range pending {
		if err := appNode.ReceiveTransaction(tx); err != nil {
			appLog.Warnf("startup: dropping persisted mempool transaction %s: %v", tx.ID(), err)
		}
	}
}

func printErr(err error) {
	fmt.Fprintf(os.Stderr, "✗ %v\n", err)
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "run the P2P gossip listener and JSON-RPC server until killed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := pidfile.Acquire(appCfg.PIDFilePath); err != nil {
				return fmt.Errorf("acquire pid file: %w", err)
			}
			defer func() {
				if err := pidfile.Release(appCfg.PIDFilePath); err != nil {
					printErr(err)
				}
			}()

			appP2P.ConnectAll(appCfg.Peers)
			go func() {
				if err := appP2P.ListenAndServe(); err != nil {
					appLog.Warnf("p2p: listener stopped: %v", err)
				}
			}()

			rpcServer := rpc.NewServer(appNode, appP2P, appLog)
			addr := fmt.Sprintf(":%d", appCfg.HTTPPort)
			appLog.Infof("rpc: listening on %s", addr)
			return http.ListenAndServe(addr, rpcServer.Router())
		},
	}
}

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "node"}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "print height, tip and mempool size",
		RunE: func(cmd *cobra.Command, args []string) error {
			status := appNode.Status()
			fmt.Printf("height=%d tip=%s mempool=%d\n", status.Height, status.TipHash, status.MempoolSize)
			return nil
		},
	})
	return cmd
}

func mineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "mine a single block from the current mempool",
		RunE: func(cmd *cobra.Command, args []string) error {
			block, err := appNode.Mine()
			if err != nil {
				return err
			}
			fmt.Printf("mined block %s at height %d with %d transactions\n",
				block.ID(), appNode.Status().Height, len(block.Transactions))
			return nil
		},
	}
}

func chainCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "chain"}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "print chain height and tip hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			status := appNode.Status()
			fmt.Printf("height=%d tip=%s\n", status.Height, status.TipHash)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "print every block id in chain order",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, b := range appLedger.Blocks() {
				fmt.Printf("%d %s (%d tx)\n", b.Header.Timestamp.Unix(), b.ID(), len(b.Transactions))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "re-verify every block and every inter-block link",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appNode.ValidateChain(); err != nil {
				return err
			}
			fmt.Println("chain is valid")
			return nil
		},
	})

	return cmd
}

func walletCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "wallet"}

	var path, password string
	addFlags := func(c *cobra.Command) {
		c.Flags().StringVar(&path, "path", "", "keystore file path")
		c.Flags().StringVar(&password, "password", "", "keystore password")
		c.MarkFlagRequired("path")
	}

	newCmd := &cobra.Command{
		Use:   "new",
		Short: "create a fresh keystore and print its first receive address",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := core.CreateKeystore(password, path)
			if err != nil {
				return err
			}
			addr, err := core.NewWallet(seed, appLedger.Store(), appLog).ReceiveAddress()
			if err != nil {
				return err
			}
			fmt.Println(addr)
			return nil
		},
	}
	addFlags(newCmd)

	addressCmd := &cobra.Command{
		Use:   "address",
		Short: "print the wallet's next unused receive address",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := core.LoadKeystore(password, path)
			if err != nil {
				return err
			}
			addr, err := core.NewWallet(seed, appLedger.Store(), appLog).ReceiveAddress()
			if err != nil {
				return err
			}
			fmt.Println(addr)
			return nil
		},
	}
	addFlags(addressCmd)

	balanceCmd := &cobra.Command{
		Use:   "balance",
		Short: "print the wallet's total spendable balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := core.LoadKeystore(password, path)
			if err != nil {
				return err
			}
			balance, err := core.NewWallet(seed, appLedger.Store(), appLog).Balance()
			if err != nil {
				return err
			}
			fmt.Println(balance)
			return nil
		},
	}
	addFlags(balanceCmd)

	var to string
	var amount, fee uint64
	var message string
	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "build, sign and broadcast a transaction from the wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := core.LoadKeystore(password, path)
			if err != nil {
				return err
			}
			w := core.NewWallet(seed, appLedger.Store(), appLog)
			entry, err := w.Send([]core.TxOutput{{Value: amount, Address: core.Address(to)}}, fee, message)
			if err != nil {
				return err
			}
			if err := appNode.ReceiveTransaction(entry.Tx); err != nil {
				return err
			}
			fmt.Println(entry.Tx.ID())
			return nil
		},
	}
	addFlags(sendCmd)
	sendCmd.Flags().StringVar(&to, "to", "", "destination address")
	sendCmd.Flags().Uint64Var(&amount, "amount", 0, "amount to send, in the smallest unit")
	sendCmd.Flags().Uint64Var(&fee, "fee", 0, "flat fee in the smallest unit")
	sendCmd.Flags().StringVar(&message, "message", "", "optional message attached to the transaction")
	sendCmd.MarkFlagRequired("to")
	sendCmd.MarkFlagRequired("amount")

	cmd.AddCommand(newCmd, addressCmd, balanceCmd, sendCmd)
	return cmd
}
