package server

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/room-relay/internal/relay"
)

var ErrShuttingDown = errors.New("chat server is shutting down")

// ChatServer owns the live WebSocket clients and hands their events to the
// relay service.
type ChatServer struct {
	log         *log.Logger
	svc         *relay.Service
	sendBuffer  int
	clients     map[*Client]struct{}
	clientsLock sync.Mutex
	closing     bool
	wg          sync.WaitGroup
}

func NewChatServer(logger *log.Logger, svc *relay.Service, sendBuffer int) *ChatServer {
	return &ChatServer{
		log:        logger,
		svc:        svc,
		sendBuffer: sendBuffer,
		clients:    make(map[*Client]struct{}),
	}
}

// ServeClient registers conn with the relay and starts its pumps. token is
// the credential presented at upgrade, if any.
func (cs *ChatServer) ServeClient(conn *websocket.Conn, token string) (*Client, error) {
	c := NewClient(conn, cs, cs.log, token, cs.sendBuffer)

	cs.clientsLock.Lock()
	if cs.closing {
		cs.clientsLock.Unlock()
		conn.Close()
		return nil, ErrShuttingDown
	}
	cs.clients[c] = struct{}{}
	cs.wg.Add(2)
	cs.clientsLock.Unlock()

	c.id = cs.svc.Connect(c)

	go func() {
		defer cs.wg.Done()
		c.Write()
	}()
	go func() {
		defer cs.wg.Done()
		c.Read()
	}()

	return c, nil
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

func (cs *ChatServer) NumClients() int {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	return len(cs.clients)
}

func (cs *ChatServer) IsShuttingDown() bool {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	return cs.closing
}

// Shutdown closes every client and waits for their pumps to exit.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("closing client connections")

	cs.clientsLock.Lock()
	cs.closing = true
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
