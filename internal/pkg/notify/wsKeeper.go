package notify

import (
	"strings"
	"sync"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
)

// WsConn is the used subset of a websocket connection
type WsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	WriteJSON(v interface{}) error
}

// WSConnKeeper tracks open connections by the user they belong to.
// One user may listen from several tabs or devices at once.
type WSConnKeeper struct {
	userConnsMap map[string]map[WsConn]struct{}
	connUserMap  map[WsConn]string
	mapLock      *sync.Mutex
	timeOut      time.Duration
}

// NewWSConnKeeper creates manager
func NewWSConnKeeper() *WSConnKeeper {
	res := &WSConnKeeper{}
	res.userConnsMap = make(map[string]map[WsConn]struct{})
	res.connUserMap = make(map[WsConn]string)
	res.mapLock = &sync.Mutex{}
	res.timeOut = time.Minute * 30 // max time limit for a connection
	return res
}

// HandleConnection loops while the connection is active. The first
// message on the socket names the user, later messages renew the binding
// and reset the idle timeout.
func (kp *WSConnKeeper) HandleConnection(conn WsConn) error {
	defer kp.deleteConnection(conn)
	defer conn.Close()
	readCh := make(chan string)
	go func() {
		defer close(readCh)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				goapp.Log.Debug().Err(err).Msg("ws read ended")
				return
			}
			msg := strings.TrimSpace(string(message))
			goapp.Log.Debug().Str("msg", goapp.Sanitize(msg)).Msg("got msg")
			if msg != "" {
				readCh <- msg
			} else {
				time.Sleep(20 * time.Millisecond)
			}
		}
	}()

	ta := time.After(kp.timeOut)
loop:
	for {
		select {
		case <-ta:
			goapp.Log.Debug().Msg("conn timeouted")
			break loop
		case msg, ok := <-readCh:
			if !ok {
				break loop
			}
			kp.saveConnection(conn, msg)
			ta = time.After(kp.timeOut)
		}
	}
	return nil
}

func (kp *WSConnKeeper) deleteConnection(conn WsConn) {
	kp.mapLock.Lock()
	defer kp.mapLock.Unlock()
	kp.deleteConnectionNoSync(conn)
}

func (kp *WSConnKeeper) deleteConnectionNoSync(conn WsConn) {
	userID, found := kp.connUserMap[conn]
	if found {
		conns, found := kp.userConnsMap[userID]
		if found {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(kp.userConnsMap, userID)
			}
		}
	}
	delete(kp.connUserMap, conn)
	goapp.Log.Debug().Int("active", len(kp.connUserMap)).Msg("connection dropped")
}

func (kp *WSConnKeeper) saveConnection(conn WsConn, userID string) {
	kp.mapLock.Lock()
	defer kp.mapLock.Unlock()
	kp.deleteConnectionNoSync(conn)
	kp.connUserMap[conn] = userID
	conns, found := kp.userConnsMap[userID]
	if !found {
		conns = map[WsConn]struct{}{}
		kp.userConnsMap[userID] = conns
	}
	conns[conn] = struct{}{}
	goapp.Log.Info().Str("user", userID).Int("active", len(kp.connUserMap)).Msg("connection saved")
}

// GetConnections returns open connections of the user
func (kp *WSConnKeeper) GetConnections(userID string) ([]WsConn, bool) {
	kp.mapLock.Lock()
	defer kp.mapLock.Unlock()
	cm, found := kp.userConnsMap[userID]
	if found {
		res := []WsConn{}
		for c := range cm {
			res = append(res, c)
		}
		return res, true
	}
	return nil, false
}
