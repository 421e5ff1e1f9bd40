package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netmuxio/netmux/batchio"
	"github.com/netmuxio/netmux/probe"
	"github.com/netmuxio/netmux/recvmux"
	"github.com/netmuxio/netmux/util"
)

type Config struct {
	ListenAddress   string
	ListenAddressV6 string
	DisableProbes   bool
	ProbeQueueSize  int
	SinkQueueSize   int
	LogLevel        string
	LogFile         string
}

func (c Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.ProbeQueueSize <= 0 {
		return fmt.Errorf("probe queue size must be positive")
	}
	if c.SinkQueueSize < 0 {
		return fmt.Errorf("sink queue size must not be negative")
	}
	return nil
}

var (
	cobraConfig *Config
	rootCmd     = &cobra.Command{
		Use:           "netmux",
		Short:         "Receive-side packet multiplexer",
		Long:          "Binds the dual-stack UDP sockets of a NAT-traversal transport and multiplexes incoming traffic into NAT-probe, discovery and transport streams",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          execute,
	}
)

func init() {
	cobraConfig = &Config{}
	rootCmd.PersistentFlags().StringVarP(&cobraConfig.ListenAddress, "listen-address", "l", ":41641", "IPv4 listen address")
	rootCmd.PersistentFlags().StringVar(&cobraConfig.ListenAddressV6, "listen-address-v6", "", "IPv6 listen address, empty disables the IPv6 socket")
	rootCmd.PersistentFlags().BoolVar(&cobraConfig.DisableProbes, "disable-probes", false, "drop NAT-probe packets instead of answering them")
	rootCmd.PersistentFlags().IntVar(&cobraConfig.ProbeQueueSize, "probe-queue-size", 16, "queue size of the best-effort NAT-probe consumer")
	rootCmd.PersistentFlags().IntVar(&cobraConfig.SinkQueueSize, "sink-queue-size", 64, "queue size of the transport consumer")
	rootCmd.PersistentFlags().StringVar(&cobraConfig.LogLevel, "log-level", "info", "log level")
	rootCmd.PersistentFlags().StringVar(&cobraConfig.LogFile, "log-file", util.LogConsole, "log file")
}

func waitForExitSignal() {
	osSigs := make(chan os.Signal, 1)
	signal.Notify(osSigs, syscall.SIGINT, syscall.SIGTERM)
	<-osSigs
}

func execute(cmd *cobra.Command, args []string) error {
	if err := cobraConfig.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := util.InitLog(cobraConfig.LogLevel, cobraConfig.LogFile); err != nil {
		return fmt.Errorf("init log: %w", err)
	}

	conn4, err := bindUDP("udp4", cobraConfig.ListenAddress)
	if err != nil {
		return fmt.Errorf("bind %s: %w", cobraConfig.ListenAddress, err)
	}
	log.Infof("listening on %s", conn4.LocalAddr())

	var conn6 *net.UDPConn
	if cobraConfig.ListenAddressV6 != "" {
		conn6, err = bindUDP("udp6", cobraConfig.ListenAddressV6)
		if err != nil {
			_ = conn4.Close()
			return fmt.Errorf("bind %s: %w", cobraConfig.ListenAddressV6, err)
		}
		log.Infof("listening on %s", conn6.LocalAddr())
	}

	reader4, err := batchio.NewReader(conn4)
	if err != nil {
		_ = conn4.Close()
		if conn6 != nil {
			_ = conn6.Close()
		}
		return fmt.Errorf("create IPv4 reader: %w", err)
	}

	var reader6 *batchio.Reader
	var pconn6 recvmux.BatchReader
	if conn6 != nil {
		reader6, err = batchio.NewReader(conn6)
		if err != nil {
			_ = reader4.Close()
			_ = conn6.Close()
			return fmt.Errorf("create IPv6 reader: %w", err)
		}
		pconn6 = reader6
	}

	state := recvmux.NewConnState(!cobraConfig.DisableProbes)
	probeSink := recvmux.NewProbeSink(cobraConfig.ProbeQueueSize)
	sink := recvmux.NewSink(cobraConfig.SinkQueueSize)

	responder := probe.NewResponder(probeSink.Packets(), conn4)
	go responder.Run()
	go drainSink(sink)

	msgs := make(chan recvmux.ActorMessage, 1)
	actor := recvmux.NewActor(state, reader4, pconn6)
	actorDone := make(chan struct{})
	go func() {
		actor.Run(msgs, probeSink, sink)
		close(actorDone)
	}()

	waitForExitSignal()
	log.Info("received signal, shutting down")

	msgs <- recvmux.ActorShutdown
	<-actorDone

	responder.Stop()
	probeSink.Close()
	sink.Close()

	var merr *multierror.Error
	if err := reader4.Close(); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("close IPv4 reader: %w", err))
	}
	if reader6 != nil {
		if err := reader6.Close(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("close IPv6 reader: %w", err))
		}
	}
	return merr.ErrorOrNil()
}

// bindUDP retries the initial bind briefly, the configured port may
// still be held by a previous instance that is on its way out.
func bindUDP(network, address string) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}

	var conn *net.UDPConn
	operation := func() error {
		var opErr error
		conn, opErr = net.ListenUDP(network, addr)
		return opErr
	}
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4)); err != nil {
		return nil, err
	}
	return conn, nil
}

func drainSink(sink *recvmux.Sink) {
	for msg := range sink.Messages() {
		switch m := msg.(type) {
		case recvmux.DiscoMessage:
			log.Debugf("discovery from %s, key %x, %d sealed bytes", m.Src, m.Key[:8], len(m.SealedPayload))
		case recvmux.ForwardMessage:
			if m.Outcome.Err != nil {
				log.Warnf("receive error: %v", m.Outcome.Err)
				continue
			}
			log.Debugf("forward %d bytes from %s via %s", m.Outcome.Meta.Len, m.Outcome.Meta.Src, m.Outcome.Source)
		}
	}
}
