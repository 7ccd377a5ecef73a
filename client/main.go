package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"gopkg.in/alecthomas/kingpin.v2"
)

const usageLine = "Usage: client -s <server> -p <port> [-d share_dir] [--peer-port port] [-v]"

type options struct {
	server      string
	port        int
	shareDir    string
	peerPort    int
	sessionPath string
	verbose     bool
}

func (o options) serverAddr() string {
	return net.JoinHostPort(o.server, strconv.Itoa(o.port))
}

func parseArgs(args []string) (options, error) {
	app := kingpin.New("client", "Interactive client for the peer-to-peer file sharing tracker.")
	app.Terminate(nil)
	server := app.Flag("server", "Tracker host name or IP.").Short('s').Required().String()
	port := app.Flag("port", "Tracker port (1024-65535).").Short('p').Required().Int()
	share := app.Flag("share", "Directory served to other peers.").Short('d').Default(".").ExistingDir()
	peerPort := app.Flag("peer-port", "Port of the peer listener, 0 picks a free one.").Default("0").Int()
	sessionPath := app.Flag("session", "File recording the connected user.").Default(DefaultSessionFile).String()
	verbose := app.Flag("verbose", "Log to stderr.").Short('v').Bool()

	if _, err := app.Parse(args); err != nil {
		return options{}, err
	}

	opts := options{
		server:      *server,
		port:        *port,
		shareDir:    *share,
		peerPort:    *peerPort,
		sessionPath: *sessionPath,
		verbose:     *verbose,
	}
	if opts.port < 1024 || opts.port > 65535 {
		return options{}, errors.New("Port must be in the range 1024 <= port <= 65535")
	}
	if opts.peerPort < 0 || opts.peerPort > 65535 {
		return options{}, errors.Errorf("peer port %d out of range", opts.peerPort)
	}
	return opts, nil
}

// setupLogging keeps glog off the terminal unless -v is given. glog reads its
// settings from the standard flag set, which kingpin never parses.
func setupLogging(verbose bool) {
	if verbose {
		flag.Set("logtostderr", "true")
		flag.Set("v", "1")
	}
	flag.CommandLine.Parse(nil)
}

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		fmt.Println(usageLine)
		return
	}

	setupLogging(opts.verbose)
	defer glog.Flush()

	sh := NewShell(opts, os.Stdout)
	sh.Run(os.Stdin)
	fmt.Println("+++ FINISHED +++")
}
