package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/edaniels/golog"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/scanbotics/rigctl/coord"
	"github.com/scanbotics/rigctl/gcode"
	"github.com/scanbotics/rigctl/machine"
	"github.com/scanbotics/rigctl/machine/fluidnc"
)

// api exposes the controller over HTTP: REST endpoints for motion,
// an SSE channel and a websocket for state push, and file management
// under the data directory.
type api struct {
	http.Handler
	c       *machine.Controller
	logger  golog.Logger
	dataDir string

	sse      *sse.Server
	upgrader websocket.Upgrader

	cancelPump func()
	quit       chan struct{}
	done       chan struct{}
}

func newAPI(c *machine.Controller, dataDir string, logger golog.Logger) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		c:       c,
		logger:  logger,
		dataDir: dataDir,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(io.Discard, "", 0),
		}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}

	r.HandleFunc("/api/status", a.status).Methods("GET")
	r.HandleFunc("/api/ports", a.ports).Methods("GET")
	r.HandleFunc("/api/move", a.move).Methods("POST")
	r.HandleFunc("/api/jog", a.jog).Methods("POST")
	r.HandleFunc("/api/jog/cancel", a.jogCancel).Methods("POST")
	r.HandleFunc("/api/home", a.home).Methods("POST")
	r.HandleFunc("/api/position", a.setPosition).Methods("POST")
	r.HandleFunc("/api/run", a.run).Methods("POST")
	r.HandleFunc("/api/hold", a.hold).Methods("POST")
	r.HandleFunc("/api/resume", a.resume).Methods("POST")
	r.HandleFunc("/api/stop", a.estop).Methods("POST")
	r.HandleFunc("/api/unlock", a.unlock).Methods("POST")
	r.HandleFunc("/api/ws", a.ws)

	r.PathPrefix("/events/").Handler(a.sse)

	fs := http.FileServer(http.Dir(dataDir))
	r.PathPrefix("/data/").Handler(http.StripPrefix("/data", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case "GET":
			fs.ServeHTTP(w, req)
		case "PUT":
			a.putFile(w, req)
		case "DELETE":
			a.deleteFile(w, req)
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	})))
	r.PathPrefix("/").Handler(fs)

	sub, cancel := c.Subscribe()
	a.cancelPump = cancel
	go a.pump(sub)

	return a
}

// pump forwards every snapshot to the SSE state channel.
func (a *api) pump(sub <-chan machine.MotionSnapshot) {
	defer close(a.done)
	for {
		select {
		case snap := <-sub:
			data, err := json.Marshal(snap)
			if err != nil {
				a.logger.Errorw("marshal snapshot", "error", err)
				continue
			}
			a.sse.SendMessage("/events/state", sse.SimpleMessage(string(data)))
		case <-a.quit:
			return
		}
	}
}

// Close stops the state pump and drops all SSE clients.
func (a *api) Close() {
	a.cancelPump()
	close(a.quit)
	<-a.done
	a.sse.Shutdown()
}

func (a *api) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Errorw("encode response", "error", err)
	}
}

// fail maps controller errors onto HTTP statuses: operator mistakes
// are 4xx, rig trouble is 5xx.
func (a *api) fail(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	var limErr *machine.LimitError
	var alarmErr *machine.AlarmError
	var rejErr *fluidnc.RejectError
	var homeErr *fluidnc.HomingError
	switch {
	case errors.As(err, &limErr),
		errors.As(err, &rejErr),
		errors.Is(err, machine.ErrInvalidFeed),
		errors.Is(err, machine.ErrInvalidJog):
		status = http.StatusBadRequest
	case errors.As(err, &alarmErr),
		errors.As(err, &homeErr),
		errors.Is(err, machine.ErrNotHomed),
		errors.Is(err, machine.ErrEStopped),
		errors.Is(err, fluidnc.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, machine.ErrNotConnected):
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		a.logger.Errorw(op, "error", err)
	} else {
		a.logger.Warnw(op, "error", err)
	}
	http.Error(w, err.Error(), status)
}

func (a *api) status(w http.ResponseWriter, req *http.Request) {
	// refresh=1 polls the firmware instead of serving the cache.
	if req.FormValue("refresh") == "1" {
		snap, err := a.c.RequestStatus(req.Context())
		if err != nil {
			a.fail(w, "refresh status", err)
			return
		}
		a.writeJSON(w, snap)
		return
	}
	a.writeJSON(w, a.c.Snapshot())
}

func (a *api) ports(w http.ResponseWriter, req *http.Request) {
	ports, err := fluidnc.ListPorts()
	if err != nil {
		a.fail(w, "list ports", err)
		return
	}
	a.writeJSON(w, ports)
}

// moveRequest carries per-axis values for move and jog endpoints.
// Nil means the axis was not named.
type moveRequest struct {
	X    *float64 `json:"x"`
	Y    *float64 `json:"y"`
	Z    *float64 `json:"z"`
	C    *float64 `json:"c"`
	Feed float64  `json:"feed"`
}

// apply overlays the named axes onto base, returning how many were set.
func (m moveRequest) apply(base coord.Point) (coord.Point, int) {
	n := 0
	if m.X != nil {
		base = base.Set(coord.AxisX, *m.X)
		n++
	}
	if m.Y != nil {
		base = base.Set(coord.AxisY, *m.Y)
		n++
	}
	if m.Z != nil {
		base = base.Set(coord.AxisZ, *m.Z)
		n++
	}
	if m.C != nil {
		base = base.Set(coord.AxisC, *m.C)
		n++
	}
	return base, n
}

// parseMoveRequest accepts a JSON body or form/query values.
func parseMoveRequest(req *http.Request) (moveRequest, error) {
	var m moveRequest
	if strings.HasPrefix(req.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(req.Body).Decode(&m); err != nil {
			return m, fmt.Errorf("decode body: %w", err)
		}
		return m, nil
	}

	var err error
	parse := func(param string) *float64 {
		s := req.FormValue(param)
		if err != nil || s == "" {
			return nil
		}
		var v float64
		v, err = strconv.ParseFloat(s, 64)
		if err != nil {
			err = fmt.Errorf("bad %s value %q", param, s)
			return nil
		}
		return &v
	}
	m.X = parse("x")
	m.Y = parse("y")
	m.Z = parse("z")
	m.C = parse("c")
	if f := parse("feed"); f != nil {
		m.Feed = *f
	}
	return m, err
}

func (a *api) move(w http.ResponseWriter, req *http.Request) {
	mr, err := parseMoveRequest(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	target, n := mr.apply(a.c.Snapshot().MPos)
	if n == 0 {
		http.Error(w, "no axes given", http.StatusBadRequest)
		return
	}
	if err := a.c.MoveTo(req.Context(), target, mr.Feed); err != nil {
		a.fail(w, "move", err)
		return
	}
	a.writeJSON(w, a.c.Snapshot())
}

func (a *api) jog(w http.ResponseWriter, req *http.Request) {
	mr, err := parseMoveRequest(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	delta, n := mr.apply(coord.Point{})
	if n == 0 {
		http.Error(w, "no axes given", http.StatusBadRequest)
		return
	}
	if err := a.c.Jog(delta, mr.Feed); err != nil {
		a.fail(w, "jog", err)
		return
	}
	a.writeJSON(w, a.c.Snapshot())
}

func (a *api) jogCancel(w http.ResponseWriter, req *http.Request) {
	if err := a.c.StopJog(); err != nil {
		a.fail(w, "jog cancel", err)
		return
	}
	a.writeJSON(w, a.c.Snapshot())
}

func (a *api) home(w http.ResponseWriter, req *http.Request) {
	var err error
	if name := req.FormValue("axis"); name != "" {
		axis, ok := coord.ParseAxis(name)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown axis %q", name), http.StatusBadRequest)
			return
		}
		err = a.c.HomeAxis(req.Context(), axis)
	} else {
		err = a.c.HomeAll(req.Context())
	}
	if err != nil {
		a.fail(w, "home", err)
		return
	}
	a.writeJSON(w, a.c.Snapshot())
}

// setPosition declares the rig's current physical position without
// motion. Unnamed axes keep their current work-frame reading.
func (a *api) setPosition(w http.ResponseWriter, req *http.Request) {
	mr, err := parseMoveRequest(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	declared, n := mr.apply(a.c.Snapshot().WPos)
	if n == 0 {
		http.Error(w, "no axes given", http.StatusBadRequest)
		return
	}
	if err := a.c.SetPosition(declared); err != nil {
		a.fail(w, "set position", err)
		return
	}
	a.writeJSON(w, a.c.Snapshot())
}

func (a *api) run(w http.ResponseWriter, req *http.Request) {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	blocks, err := gcode.Parse(string(data))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.c.CheckScript(blocks); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.c.RunScript(req.Context(), &gcode.BlocksReader{Blocks: blocks}); err != nil {
		a.fail(w, "run", err)
		return
	}
	a.writeJSON(w, a.c.Snapshot())
}

func (a *api) hold(w http.ResponseWriter, req *http.Request) {
	if err := a.c.Hold(); err != nil {
		a.fail(w, "hold", err)
		return
	}
	a.writeJSON(w, a.c.Snapshot())
}

func (a *api) resume(w http.ResponseWriter, req *http.Request) {
	if err := a.c.Resume(); err != nil {
		a.fail(w, "resume", err)
		return
	}
	a.writeJSON(w, a.c.Snapshot())
}

func (a *api) estop(w http.ResponseWriter, req *http.Request) {
	if err := a.c.EmergencyStop(); err != nil {
		a.fail(w, "emergency stop", err)
		return
	}
	a.writeJSON(w, a.c.Snapshot())
}

func (a *api) unlock(w http.ResponseWriter, req *http.Request) {
	if err := a.c.Unlock(); err != nil {
		a.fail(w, "unlock", err)
		return
	}
	a.writeJSON(w, a.c.Snapshot())
}

// wsCommand is one client request on the websocket.
type wsCommand struct {
	Type string   `json:"type"`
	X    *float64 `json:"x,omitempty"`
	Y    *float64 `json:"y,omitempty"`
	Z    *float64 `json:"z,omitempty"`
	C    *float64 `json:"c,omitempty"`
	Feed float64  `json:"feed,omitempty"`
}

// wsEvent is one server push: a state snapshot or a command error.
type wsEvent struct {
	Type  string                  `json:"type"`
	State *machine.MotionSnapshot `json:"state,omitempty"`
	Error string                  `json:"error,omitempty"`
}

const wsPingInterval = 30 * time.Second

// ws upgrades to a websocket that pushes state snapshots and accepts
// jog and hold/resume style commands.
func (a *api) ws(w http.ResponseWriter, req *http.Request) {
	conn, err := a.upgrader.Upgrade(w, req, nil)
	if err != nil {
		a.logger.Warnw("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	sub, cancel := a.c.Subscribe()
	defer cancel()

	cmdErrs := make(chan wsEvent, 8)
	readerDone := make(chan struct{})
	go a.wsReader(req.Context(), conn, cmdErrs, readerDone)

	snap := a.c.Snapshot()
	if err := conn.WriteJSON(wsEvent{Type: "state", State: &snap}); err != nil {
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case s := <-sub:
			if err := conn.WriteJSON(wsEvent{Type: "state", State: &s}); err != nil {
				return
			}
		case ev := <-cmdErrs:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readerDone:
			return
		case <-a.quit:
			return
		}
	}
}

// wsReader consumes client commands until the socket drops. Command
// failures go back over cmdErrs; the writer goroutine owns all writes.
func (a *api) wsReader(ctx context.Context, conn *websocket.Conn, cmdErrs chan<- wsEvent, done chan<- struct{}) {
	defer close(done)
	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.logger.Debugw("websocket read", "error", err)
			}
			return
		}
		if err := a.dispatch(ctx, cmd); err != nil {
			select {
			case cmdErrs <- wsEvent{Type: "error", Error: err.Error()}:
			default:
			}
		}
	}
}

func (a *api) dispatch(ctx context.Context, cmd wsCommand) error {
	switch cmd.Type {
	case "jog":
		delta, n := moveRequest{X: cmd.X, Y: cmd.Y, Z: cmd.Z, C: cmd.C}.apply(coord.Point{})
		if n == 0 {
			return errors.New("jog: no axes given")
		}
		return a.c.Jog(delta, cmd.Feed)
	case "jogCancel":
		return a.c.StopJog()
	case "hold":
		return a.c.Hold()
	case "resume":
		return a.c.Resume()
	case "stop":
		return a.c.EmergencyStop()
	case "unlock":
		return a.c.Unlock()
	case "status":
		_, err := a.c.RequestStatus(ctx)
		return err
	default:
		return fmt.Errorf("unknown command %q", cmd.Type)
	}
}

func safePath(base, name string) (bool, string) {
	if filepath.Separator != '/' && strings.ContainsRune(name, filepath.Separator) {
		return false, ""
	}
	dir := base
	if dir == "" {
		dir = "."
	}
	return true, filepath.Join(dir, filepath.FromSlash(path.Clean("/"+name)))
}

func (a *api) putFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		a.fail(w, "put file", err)
		return
	}
	f, err := os.Create(name)
	if err != nil {
		a.fail(w, "put file", err)
		return
	}
	defer f.Close()
	if _, err := io.Copy(f, req.Body); err != nil {
		a.fail(w, "put file", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) deleteFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if err := os.Remove(name); err != nil {
		if os.IsNotExist(err) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		a.fail(w, "delete file", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// withMiddleware adds CORS headers and request logging around the API.
func withMiddleware(h http.Handler, logger golog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		logger.Debugw("http", "method", req.Method, "path", req.URL.Path, "remote", req.RemoteAddr)
		h.ServeHTTP(w, req)
	})
}
