package common

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"testing"

	"github.com/pkg/errors"
)

func TestSendRecvOverPipe(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	req := NewRequest(OpPublish)
	req.User = "alice"
	req.File = "notes.txt"
	req.Description = "lecture notes, week 3"

	errc := make(chan error, 1)
	go func() { errc <- Send(a, req) }()

	var got Request
	if err := Recv(b, &got); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got != req {
		t.Errorf("got %+v, want %+v", got, req)
	}
}

func TestOpEncodedByName(t *testing.T) {
	data, err := json.Marshal(Request{ID: "x", Op: OpListContent})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte(`"op":"LIST_CONTENT"`)) {
		t.Errorf("op not encoded by name: %s", data)
	}

	var req Request
	if err := json.Unmarshal([]byte(`{"id":"x","op":"SHUTDOWN"}`), &req); err == nil {
		t.Error("unknown op decoded without error")
	}
	if _, err := json.Marshal(Request{}); err == nil {
		t.Error("invalid op encoded without error")
	}
}

func TestRecvRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, MaxFrameSize+1)
	buf.Write(hdr)

	var v Response
	if err := Recv(&buf, &v); err != ErrFrameTooLarge {
		t.Errorf("want ErrFrameTooLarge, got %v", err)
	}
}

func TestRecvTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := Send(&buf, Response{ID: "1", Code: CodeFileNotFound}); err != nil {
		t.Fatal(err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-3])

	var v Response
	if err := Recv(truncated, &v); err != io.ErrUnexpectedEOF {
		t.Errorf("want io.ErrUnexpectedEOF, got %v", err)
	}

	if err := Recv(bytes.NewReader(nil), &v); err != io.EOF {
		t.Errorf("empty stream: want io.EOF, got %v", err)
	}
}

func TestCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeOK},
		{ErrAlreadyRegistered, CodeAlreadyRegistered},
		{errors.Wrap(ErrNotConnected, "publish"), CodeNotConnected},
		{errors.Wrapf(ErrFileNotFound, "delete %s", "a.txt"), CodeFileNotFound},
		{errors.Wrap(ErrLocal, "rename"), CodeLocalError},
		{errors.New("disk on fire"), CodeInternal},
	}
	for _, c := range cases {
		if got := CodeOf(c.err); got != c.want {
			t.Errorf("CodeOf(%v) = %v, want %v", c.err, got, c.want)
		}
		if c.want != CodeInternal && errors.Cause(c.err) != c.want.Err() {
			t.Errorf("%v.Err() = %v, want %v", c.want, c.want.Err(), errors.Cause(c.err))
		}
	}
}
