package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"peershare/common"
)

const opQuit = "QUIT"

// command is one parsed shell line.
type command struct {
	name string
	args []string
}

var usages = map[string]string{
	"REGISTER":     "Syntax error. Usage: REGISTER <userName>",
	"UNREGISTER":   "Syntax error. Usage: UNREGISTER <userName>",
	"CONNECT":      "Syntax error. Usage: CONNECT <userName>",
	"DISCONNECT":   "Syntax error. Usage: DISCONNECT <userName>",
	"PUBLISH":      "Syntax error. Usage: PUBLISH <file_name> <description>",
	"DELETE":       "Syntax error. Usage: DELETE <file name>",
	"LIST_USERS":   "Syntax error. Usage: LIST_USERS ",
	"LIST_CONTENT": "Syntax error. Usage: LIST_CONTENT <user name>",
	"GET_FILE":     "Syntax error. Usage: GET_FILE <user> <remote_file_name> <local_file_name>",
	opQuit:         "Syntax error. Use: QUIT",
}

var arity = map[string]int{
	"REGISTER":     1,
	"UNREGISTER":   1,
	"CONNECT":      1,
	"DISCONNECT":   1,
	"DELETE":       1,
	"LIST_USERS":   0,
	"LIST_CONTENT": 1,
	"GET_FILE":     3,
	opQuit:         0,
}

// parseLine splits a shell line into a command. Blank lines give an empty
// command. PUBLISH keeps everything after the file name as the description.
func parseLine(line string) (command, error) {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, nil
	}

	name := fields[0]
	usage, known := usages[name]
	if !known {
		return command{}, errors.Errorf("Error: command '%s' not valid.", name)
	}
	syntaxErr := errors.Wrap(common.ErrSyntax, usage)

	if name == "PUBLISH" {
		if len(fields) < 3 {
			return command{}, syntaxErr
		}
		rest := strings.TrimLeftFunc(line[len(name):], unicode.IsSpace)
		desc := strings.TrimLeftFunc(rest[len(fields[1]):], unicode.IsSpace)
		return command{name: name, args: []string{fields[1], desc}}, nil
	}

	if len(fields)-1 != arity[name] {
		return command{}, syntaxErr
	}
	return command{name: name, args: fields[1:]}, nil
}

// Shell reads commands and runs them against the tracker and peers.
type Shell struct {
	tracker     *TrackerConn
	serverAddr  string
	shareDir    string
	peerPort    int
	sessionPath string
	out         io.Writer

	sess session
}

func NewShell(opts options, out io.Writer) *Shell {
	return &Shell{
		tracker:     NewTrackerConn(opts.serverAddr()),
		serverAddr:  opts.serverAddr(),
		shareDir:    opts.shareDir,
		peerPort:    opts.peerPort,
		sessionPath: opts.sessionPath,
		out:         out,
	}
}

// Run prompts and executes lines from in until QUIT or end of input.
func (sh *Shell) Run(in io.Reader) {
	sh.recoverSession()

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(sh.out, "c> ")
		if !scanner.Scan() {
			break
		}
		if quit := sh.Exec(scanner.Text()); quit {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(sh.out, "Exception: %v\n", err)
	}
	sh.quit()
}

// Exec runs a single line and reports whether the shell should stop.
func (sh *Shell) Exec(line string) bool {
	cmd, err := parseLine(line)
	if err != nil {
		if errors.Cause(err) == common.ErrSyntax {
			fmt.Fprintln(sh.out, strings.TrimSuffix(err.Error(), ": "+common.ErrSyntax.Error()))
		} else {
			fmt.Fprintln(sh.out, err)
		}
		return false
	}

	switch cmd.name {
	case "":
	case "REGISTER":
		sh.simple(common.OpRegister, cmd.args[0], "", "")
	case "UNREGISTER":
		if sh.simple(common.OpUnregister, cmd.args[0], "", "") && cmd.args[0] == sh.sess.user {
			sh.endSession()
		}
	case "CONNECT":
		sh.connect(cmd.args[0])
	case "DISCONNECT":
		sh.disconnect(cmd.args[0])
	case "PUBLISH":
		sh.simple(common.OpPublish, sh.sess.user, cmd.args[0], cmd.args[1])
	case "DELETE":
		sh.simple(common.OpDelete, sh.sess.user, cmd.args[0], "")
	case "LIST_USERS":
		sh.listUsers()
	case "LIST_CONTENT":
		sh.listContent(cmd.args[0])
	case "GET_FILE":
		sh.getFile(cmd.args[0], cmd.args[1], cmd.args[2])
	case opQuit:
		sh.quit()
		return true
	}
	return false
}

func (sh *Shell) ok(op common.Op) {
	fmt.Fprintf(sh.out, "%s OK\n", op)
}

func (sh *Shell) fail(op common.Op, err error) {
	fmt.Fprintf(sh.out, "%s FAIL, %s: %v\n", op, common.CodeOf(err), err)
}

func (sh *Shell) simple(op common.Op, user, file, desc string) bool {
	req := common.NewRequest(op)
	req.User = user
	req.File = file
	req.Description = desc
	if _, err := sh.tracker.Do(req); err != nil {
		sh.fail(op, err)
		return false
	}
	sh.ok(op)
	return true
}

func (sh *Shell) connect(user string) {
	if sh.sess.connected() {
		sh.fail(common.OpConnect, errors.Wrapf(common.ErrAlreadyConnected, "this shell is connected as %s", sh.sess.user))
		return
	}

	peer, err := StartPeerServer(sh.shareDir, sh.peerPort, sh.sessionPath)
	if err != nil {
		sh.fail(common.OpConnect, err)
		return
	}

	req := common.NewRequest(common.OpConnect)
	req.User = user
	req.Address = peer.Addr()
	if _, err := sh.tracker.Do(req); err != nil {
		peer.Close()
		sh.fail(common.OpConnect, err)
		return
	}

	sh.sess = session{user: user, peer: peer}
	if err := SaveSession(sh.sessionPath, sh.sessionData()); err != nil {
		glog.Warningf("save session: %v", err)
	}
	sh.ok(common.OpConnect)
}

func (sh *Shell) disconnect(user string) {
	req := common.NewRequest(common.OpDisconnect)
	req.User = user
	_, err := sh.tracker.Do(req)

	// the tracker no longer lists this user as connected, stop serving
	if user == sh.sess.user && (err == nil || errors.Cause(err) == common.ErrNotConnected || errors.Cause(err) == common.ErrNotRegistered) {
		sh.endSession()
	}

	if err != nil {
		sh.fail(common.OpDisconnect, err)
		return
	}
	sh.ok(common.OpDisconnect)
}

func (sh *Shell) listUsers() {
	req := common.NewRequest(common.OpListUsers)
	req.User = sh.sess.user
	resp, err := sh.tracker.Do(req)
	if err != nil {
		sh.fail(common.OpListUsers, err)
		return
	}
	sh.ok(common.OpListUsers)
	for _, u := range resp.Users {
		fmt.Fprintf(sh.out, "\t%s\t%s\n", u.Name, u.Address)
	}
}

func (sh *Shell) listContent(user string) {
	req := common.NewRequest(common.OpListContent)
	req.User = user
	resp, err := sh.tracker.Do(req)
	if err != nil {
		sh.fail(common.OpListContent, err)
		return
	}
	sh.ok(common.OpListContent)
	for _, f := range resp.Files {
		fmt.Fprintf(sh.out, "\t%s\t%q\n", f.Name, f.Description)
	}
}

func (sh *Shell) getFile(owner, remote, local string) {
	n, err := GetFile(sh.tracker, owner, remote, local)
	if err != nil {
		sh.fail(common.OpGetFile, err)
		return
	}
	fmt.Fprintf(sh.out, "%s OK (%s)\n", common.OpGetFile, humanize.Bytes(uint64(n)))
}

func (sh *Shell) sessionData() SessionData {
	return SessionData{User: sh.sess.user, Server: sh.serverAddr, ListenAddr: sh.sess.peer.Addr()}
}

// endSession stops serving and removes the session file unless another shell
// has written its own session there since.
func (sh *Shell) endSession() {
	if !sh.sess.connected() {
		return
	}
	mine := sh.sessionData()
	sh.sess.end()

	cur, err := LoadSession(sh.sessionPath)
	if err != nil || cur != mine {
		return
	}
	if err := ClearSession(sh.sessionPath); err != nil {
		glog.Warningf("clear session: %v", err)
	}
}

// quit disconnects the session user before the shell exits.
func (sh *Shell) quit() {
	if sh.sess.connected() {
		sh.disconnect(sh.sess.user)
	}
}

// recoverSession disconnects a user left connected by a shell that exited
// without QUIT. The user only counts as stale when the tracker still lists it
// at the recorded listener and nothing answers there.
func (sh *Shell) recoverSession() {
	prev, err := LoadSession(sh.sessionPath)
	if err != nil {
		glog.Warningf("load session: %v", err)
		return
	}
	if prev.User == "" || prev.Server != sh.serverAddr {
		return
	}

	req := common.NewRequest(common.OpLookup)
	req.User = prev.User
	resp, err := sh.tracker.Do(req)
	switch {
	case errors.Cause(err) == common.ErrNetwork:
		glog.Warningf("stale session of %s not checked: %v", prev.User, err)
		return
	case err != nil:
		// no longer connected, nothing to clean up on the tracker
	case !sameListener(resp.Address, prev.ListenAddr):
		glog.V(1).Infof("%s reconnected at %s since the session was saved", prev.User, resp.Address)
	case peerAlive(resp.Address):
		glog.V(1).Infof("session of %s is live at %s", prev.User, resp.Address)
		return
	default:
		req := common.NewRequest(common.OpDisconnect)
		req.User = prev.User
		if _, err := sh.tracker.Do(req); err != nil {
			glog.Warningf("stale session of %s not cleaned: %v", prev.User, err)
			return
		}
		fmt.Fprintf(sh.out, "Disconnected %s left over from a previous session\n", prev.User)
	}

	if err := ClearSession(sh.sessionPath); err != nil {
		glog.Warningf("clear session: %v", err)
	}
}

// sameListener compares the tracker's address for a user with the listener
// address a session recorded. Only ports are compared, the recorded address
// carries no host. An empty record matches anything.
func sameListener(trackerAddr, recorded string) bool {
	if recorded == "" {
		return true
	}
	_, p1, err1 := net.SplitHostPort(trackerAddr)
	_, p2, err2 := net.SplitHostPort(recorded)
	return err1 == nil && err2 == nil && p1 == p2
}

func peerAlive(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
