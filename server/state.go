package server

import "os"

// state is where a connection is in the protocol. Each variant carries
// only the fields meaningful while it is current.
type state interface {
	String() string
}

type loggedOut struct{}

type waiting struct {
	// draining is set after a download while the client's trailing
	// acknowledgement lines may still arrive.
	draining bool
}

type receivingFileSize struct {
	filename string
}

type receivingFile struct {
	filename string
	declared int64
	data     []byte
}

type sendingFileSize struct {
	filename string
	size     int64
	file     *os.File
}

type sendingFile struct {
	filename string
	size     int64
	sent     int64
	file     *os.File
}

func (*loggedOut) String() string         { return "LOGGED_OUT" }
func (*waiting) String() string           { return "WAITING" }
func (*receivingFileSize) String() string { return "RECEIVING_FILE_SIZE" }
func (*receivingFile) String() string     { return "RECEIVING_FILE" }
func (*sendingFileSize) String() string   { return "SENDING_FILE_SIZE" }
func (*sendingFile) String() string       { return "SENDING_FILE" }

// release frees whatever st holds open.
func release(st state) {
	switch st := st.(type) {
	case *sendingFileSize:
		st.file.Close()
	case *sendingFile:
		st.file.Close()
	}
}
