package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"reflect"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/skiffworks/skiff/pkg/actor"
)

// MaxWebsocketMessageSize is the maximum size of a websocket message sent in bytes.
const MaxWebsocketMessageSize = 128 * 1024 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketConnected notifies an actor that a websocket is attempting to connect.
type WebSocketConnected struct {
	Ctx echo.Context
}

// Accept wraps the connecting websocket connection in an actor, created as a child of the
// context's recipient. Incoming messages are parsed into the provided message type and forwarded
// to the parent.
func (w WebSocketConnected) Accept(
	ctx *actor.Context, msgType interface{},
) (*actor.Ref, bool) {
	conn, err := upgrader.Upgrade(w.Ctx.Response(), w.Ctx.Request(), nil)
	if err != nil {
		ctx.Respond(errors.Wrap(err, "websocket connection error"))
		return nil, false
	}
	a, _ := ctx.ActorOf("websocket-"+uuid.New().String(), WrapSocket(conn, msgType))
	ctx.Respond(a)
	return a, true
}

// Dial connects a websocket to the provided URL and wraps it as an actor created as a child of
// the context's recipient.
func Dial(ctx *actor.Context, id string, url string, msgType interface{}) (*actor.Ref, error) {
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", url)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	ref, _ := ctx.ActorOf(id, WrapSocket(conn, msgType))
	return ref, nil
}

// WriteMessage is a message to a websocket actor asking it to write out the given message,
// encoding it to JSON.
type WriteMessage struct {
	actor.Message
}

// WriteResponse is the response to a successful WriteMessage.
type WriteResponse struct{}

// WriteSocketJSON writes a JSON-serializable object to a websocket actor.
func WriteSocketJSON(ctx *actor.Context, socket *actor.Ref, msg interface{}) error {
	resp := ctx.Ask(socket, WriteMessage{Message: msg}).Get()
	switch resp := resp.(type) {
	case error:
		return errors.WithStack(resp)
	case WriteResponse:
		return nil
	default:
		return errors.Errorf("unknown response %T: %s", resp, resp)
	}
}

// WrapSocket wraps a websocket connection as an actor. Incoming messages are unmarshalled into
// new values of msgType's type and sent to the actor's parent.
func WrapSocket(conn *websocket.Conn, msgType interface{}) actor.Actor {
	return &websocketActor{
		conn:    conn,
		msgType: reflect.TypeOf(msgType),
	}
}

type websocketActor struct {
	conn    *websocket.Conn
	msgType reflect.Type
}

// Receive implements the actor.Actor interface.
func (s *websocketActor) Receive(ctx *actor.Context) error {
	switch msg := ctx.Message().(type) {
	case actor.PreStart:
		go s.runReadLoop(ctx)
		return nil
	case actor.PostStop:
		return s.conn.Close()
	case error: // Socket read errors.
		return msg
	case []byte: // Incoming messages on the socket.
		parsed, err := parseMsg(msg, s.msgType)
		if err != nil {
			return err
		}
		// Notify the socket's parent actor of the incoming message.
		ctx.Tell(ctx.Self().Parent(), parsed)
		return nil
	case WriteMessage:
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(msg.Message); err != nil {
			return err
		}
		return s.processWriteMessage(ctx, buf)
	default:
		return actor.ErrUnexpectedMessage(ctx)
	}
}

func (s *websocketActor) processWriteMessage(ctx *actor.Context, buf bytes.Buffer) error {
	if cur, max := buf.Len(), MaxWebsocketMessageSize; cur > max {
		ctx.Respond(errors.Errorf("message size %d exceeds maximum size %d", cur, max))
		return nil
	}
	ctx.Respond(WriteResponse{})
	return s.conn.WriteMessage(websocket.TextMessage, buf.Bytes())
}

func (s *websocketActor) runReadLoop(ctx *actor.Context) {
	for {
		msgType, msg, err := s.conn.ReadMessage()
		switch {
		case isClosingError(err):
			ctx.Self().Stop()
			return
		case err != nil:
			ctx.Tell(ctx.Self(), err)
			return
		case msgType != websocket.TextMessage && msgType != websocket.BinaryMessage:
			ctx.Tell(ctx.Self(), errors.Errorf("unexpected message type: %d", msgType))
			return
		}
		ctx.Tell(ctx.Self(), msg)
	}
}

func isClosingError(err error) bool {
	return err == websocket.ErrCloseSent ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

func parseMsg(raw []byte, msgType reflect.Type) (actor.Message, error) {
	parsed := reflect.New(msgType).Interface()
	if err := json.Unmarshal(raw, parsed); err != nil {
		return nil, errors.Wrap(err, "error parsing websocket message")
	}
	return reflect.ValueOf(parsed).Elem().Interface(), nil
}
