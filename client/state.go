package main

// session is everything the shell remembers: the user connected from it and
// the peer listener serving that user's files. Both are empty when nobody is
// connected.
type session struct {
	user string
	peer *PeerServer
}

func (s *session) connected() bool {
	return s.user != ""
}

func (s *session) end() {
	if s.peer != nil {
		s.peer.Close()
	}
	s.user = ""
	s.peer = nil
}
