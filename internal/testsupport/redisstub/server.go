// Package redisstub runs a minimal in-process RESP server covering the
// command surface the queue and lease implementations use: stream
// append/read/ack with consumer groups, plus the SET NX PX keyspace and
// the compare-and-delete release script.
package redisstub

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password string
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	mu       sync.Mutex
	streams  map[string]*stream
	kv       map[string]*kvEntry
	closed   chan struct{}
}

type stream struct {
	entries []streamEntry
	groups  map[string]*groupState
}

type streamEntry struct {
	id     string
	values map[string]string
}

type groupState struct {
	nextIndex int
	pending   map[string]struct{}
}

type kvEntry struct {
	value  string
	expiry time.Time
}

func Start(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &Server{
		opts:     opts,
		listener: ln,
		addr:     ln.Addr().String(),
		streams:  make(map[string]*stream),
		kv:       make(map[string]*kvEntry),
		closed:   make(chan struct{}),
	}
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	return s.listener.Close()
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if err := writeError(writer, "ERR wrong number of arguments"); err != nil {
				return
			}
			continue
		}
		cmd := strings.ToUpper(args[0])
		switch cmd {
		case "PING":
			if err := writeSimpleString(writer, "PONG"); err != nil {
				return
			}
		case "AUTH":
			password := args[len(args)-1]
			if s.opts.Password == "" || password == s.opts.Password {
				authenticated = true
				if err := writeSimpleString(writer, "OK"); err != nil {
					return
				}
			} else if err := writeError(writer, "WRONGPASS invalid username-password pair"); err != nil {
				return
			}
		case "SELECT":
			if err := writeSimpleString(writer, "OK"); err != nil {
				return
			}
		case "HELLO":
			// go-redis falls back to RESP2 when HELLO is rejected.
			if err := writeError(writer, "ERR unknown command 'hello'"); err != nil {
				return
			}
		default:
			if !authenticated {
				if err := writeError(writer, "NOAUTH Authentication required."); err != nil {
					return
				}
				continue
			}
			if !s.dispatch(writer, args) {
				return
			}
		}
	}
}

func (s *Server) dispatch(writer *bufio.Writer, args []string) bool {
	switch strings.ToUpper(args[0]) {
	case "XADD":
		return s.handleXAdd(writer, args)
	case "XGROUP":
		return s.handleXGroup(writer, args)
	case "XREADGROUP":
		return s.handleXReadGroup(writer, args)
	case "XACK":
		return s.handleXAck(writer, args)
	case "SET":
		return s.handleSet(writer, args)
	case "GET":
		return s.handleGet(writer, args)
	case "DEL":
		return s.handleDel(writer, args)
	case "EVAL":
		return s.handleEval(writer, args)
	default:
		// Unsupported commands report an error without dropping the
		// connection so optional features degrade cleanly.
		return writeError(writer, fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(args[0]))) == nil
	}
}

func (s *Server) handleXAdd(writer *bufio.Writer, args []string) bool {
	if len(args) < 5 {
		return writeError(writer, "ERR wrong number of arguments for 'xadd'") == nil
	}
	name := args[1]
	id := args[2]
	if id == "*" {
		id = fmt.Sprintf("%d-0", time.Now().UnixNano())
	}
	values := make(map[string]string)
	for i := 3; i+1 < len(args); i += 2 {
		values[args[i]] = args[i+1]
	}
	s.mu.Lock()
	strm := s.ensureStream(name)
	strm.entries = append(strm.entries, streamEntry{id: id, values: values})
	s.mu.Unlock()
	return writeBulkString(writer, id) == nil
}

func (s *Server) handleXGroup(writer *bufio.Writer, args []string) bool {
	if len(args) < 4 || strings.ToUpper(args[1]) != "CREATE" {
		return writeError(writer, "ERR only XGROUP CREATE is supported") == nil
	}
	name := args[2]
	group := args[3]
	s.mu.Lock()
	strm := s.ensureStream(name)
	if _, exists := strm.groups[group]; exists {
		s.mu.Unlock()
		return writeError(writer, "BUSYGROUP Consumer Group name already exists") == nil
	}
	strm.groups[group] = &groupState{pending: make(map[string]struct{})}
	s.mu.Unlock()
	return writeSimpleString(writer, "OK") == nil
}

func (s *Server) handleXReadGroup(writer *bufio.Writer, args []string) bool {
	var group, name string
	count := 1
	blockMs := 0
	for i := 1; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "GROUP":
			if i+2 >= len(args) {
				return writeError(writer, "ERR syntax error") == nil
			}
			group = args[i+1]
			i += 2
		case "COUNT":
			if i+1 >= len(args) {
				return writeError(writer, "ERR syntax error") == nil
			}
			count, _ = strconv.Atoi(args[i+1])
			i++
		case "BLOCK":
			if i+1 >= len(args) {
				return writeError(writer, "ERR syntax error") == nil
			}
			blockMs, _ = strconv.Atoi(args[i+1])
			i++
		case "STREAMS":
			if i+1 >= len(args) {
				return writeError(writer, "ERR syntax error") == nil
			}
			name = args[i+1]
			i = len(args)
		}
	}
	if name == "" || group == "" {
		return writeError(writer, "ERR missing stream or group") == nil
	}
	deadline := time.Now().Add(time.Duration(blockMs) * time.Millisecond)
	for {
		items := s.readGroup(name, group, count)
		if len(items) > 0 {
			return writeArray(writer, []interface{}{items}) == nil
		}
		if blockMs <= 0 || time.Now().After(deadline) {
			return writeBulkNil(writer) == nil
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (s *Server) handleXAck(writer *bufio.Writer, args []string) bool {
	if len(args) < 4 {
		return writeError(writer, "ERR wrong number of arguments for 'xack'") == nil
	}
	s.mu.Lock()
	acked := 0
	if strm, ok := s.streams[args[1]]; ok {
		if state, ok := strm.groups[args[2]]; ok {
			for _, id := range args[3:] {
				if _, pending := state.pending[id]; pending {
					delete(state.pending, id)
					acked++
				}
			}
		}
	}
	s.mu.Unlock()
	return writeInteger(writer, int64(acked)) == nil
}

func (s *Server) handleSet(writer *bufio.Writer, args []string) bool {
	if len(args) < 3 {
		return writeError(writer, "ERR wrong number of arguments for 'set'") == nil
	}
	key, value := args[1], args[2]
	nx := false
	var ttl time.Duration
	for i := 3; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "NX":
			nx = true
		case "PX":
			if i+1 >= len(args) {
				return writeError(writer, "ERR syntax error") == nil
			}
			ms, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil || ms <= 0 {
				return writeError(writer, "ERR invalid expire time in 'set' command") == nil
			}
			ttl = time.Duration(ms) * time.Millisecond
			i++
		case "EX":
			if i+1 >= len(args) {
				return writeError(writer, "ERR syntax error") == nil
			}
			secs, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil || secs <= 0 {
				return writeError(writer, "ERR invalid expire time in 'set' command") == nil
			}
			ttl = time.Duration(secs) * time.Second
			i++
		default:
			return writeError(writer, "ERR syntax error") == nil
		}
	}
	s.mu.Lock()
	existing := s.liveEntry(key)
	if nx && existing != nil {
		s.mu.Unlock()
		return writeBulkNil(writer) == nil
	}
	entry := &kvEntry{value: value}
	if ttl > 0 {
		entry.expiry = time.Now().Add(ttl)
	}
	s.kv[key] = entry
	s.mu.Unlock()
	return writeSimpleString(writer, "OK") == nil
}

func (s *Server) handleGet(writer *bufio.Writer, args []string) bool {
	if len(args) != 2 {
		return writeError(writer, "ERR wrong number of arguments for 'get'") == nil
	}
	s.mu.Lock()
	entry := s.liveEntry(args[1])
	s.mu.Unlock()
	if entry == nil {
		return writeBulkNil(writer) == nil
	}
	return writeBulkString(writer, entry.value) == nil
}

func (s *Server) handleDel(writer *bufio.Writer, args []string) bool {
	if len(args) < 2 {
		return writeError(writer, "ERR wrong number of arguments for 'del'") == nil
	}
	s.mu.Lock()
	deleted := 0
	for _, key := range args[1:] {
		if s.liveEntry(key) != nil {
			deleted++
		}
		delete(s.kv, key)
	}
	s.mu.Unlock()
	return writeInteger(writer, int64(deleted)) == nil
}

// handleEval supports the single-key compare-and-delete shape used for
// lease release: the key is deleted only while it holds ARGV[1], and the
// reply is the number of keys removed.
func (s *Server) handleEval(writer *bufio.Writer, args []string) bool {
	if len(args) < 3 {
		return writeError(writer, "ERR wrong number of arguments for 'eval'") == nil
	}
	numKeys, err := strconv.Atoi(args[2])
	if err != nil || numKeys != 1 || len(args) != 5 {
		return writeError(writer, "ERR unsupported EVAL invocation") == nil
	}
	key, token := args[3], args[4]
	s.mu.Lock()
	deleted := int64(0)
	if entry := s.liveEntry(key); entry != nil && entry.value == token {
		delete(s.kv, key)
		deleted = 1
	}
	s.mu.Unlock()
	return writeInteger(writer, deleted) == nil
}

// liveEntry returns the entry for key, dropping it when expired. Callers
// hold s.mu.
func (s *Server) liveEntry(key string) *kvEntry {
	entry, ok := s.kv[key]
	if !ok {
		return nil
	}
	if !entry.expiry.IsZero() && time.Now().After(entry.expiry) {
		delete(s.kv, key)
		return nil
	}
	return entry
}

func (s *Server) ensureStream(name string) *stream {
	strm, ok := s.streams[name]
	if !ok {
		strm = &stream{groups: make(map[string]*groupState)}
		s.streams[name] = strm
	}
	return strm
}

func (s *Server) readGroup(name, group string, count int) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	strm := s.ensureStream(name)
	state, ok := strm.groups[group]
	if !ok {
		state = &groupState{pending: make(map[string]struct{})}
		strm.groups[group] = state
	}
	start := state.nextIndex
	if start >= len(strm.entries) {
		return nil
	}
	end := start + count
	if end > len(strm.entries) {
		end = len(strm.entries)
	}
	records := make([]interface{}, 0, end-start)
	for i := start; i < end; i++ {
		entry := strm.entries[i]
		state.pending[entry.id] = struct{}{}
		records = append(records, []interface{}{entry.id, flatten(entry.values)})
	}
	state.nextIndex = end
	return []interface{}{name, records}
}

func flatten(values map[string]string) []interface{} {
	out := make([]interface{}, 0, len(values)*2)
	for k, v := range values {
		out = append(out, k, v)
	}
	return out
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := readFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkNil(w *bufio.Writer) error {
	if _, err := w.WriteString("$-1\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func writeInteger(w *bufio.Writer, value int64) error {
	if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeArray(w *bufio.Writer, values []interface{}) error {
	if err := writeArrayRaw(w, values); err != nil {
		return err
	}
	return w.Flush()
}

func writeArrayRaw(w *bufio.Writer, values []interface{}) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(values)); err != nil {
		return err
	}
	for _, value := range values {
		switch v := value.(type) {
		case string:
			if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(v), v); err != nil {
				return err
			}
		case int64:
			if _, err := fmt.Fprintf(w, ":%d\r\n", v); err != nil {
				return err
			}
		case []interface{}:
			if err := writeArrayRaw(w, v); err != nil {
				return err
			}
		default:
			text := fmt.Sprint(v)
			if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(text), text); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}
