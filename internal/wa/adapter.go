// Package wa adapts the whatsmeow client to the panel's event model.
// It is the only package that touches wire types; everything inbound is
// converted to ingest events at this boundary.
package wa

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/wapanel/wapanel/internal/device"
	"github.com/wapanel/wapanel/internal/ingest"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter drives one account's WhatsApp connection and implements the
// device connector contract.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	dbPath    string
	mediaDir  string
	logger    *zap.Logger

	deliver func(ingest.Event)
}

var _ device.Connector = (*Adapter)(nil)

// NewAdapter opens (creating as needed) the wire session store at dbPath.
// Media payloads are downloaded into mediaDir; empty disables downloads.
func NewAdapter(ctx context.Context, dbPath, mediaDir string, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("WAPanel", [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	if mediaDir != "" {
		if err := os.MkdirAll(mediaDir, 0o700); err != nil {
			return nil, fmt.Errorf("create media dir: %w", err)
		}
	}

	return &Adapter{
		client:    whatsmeow.NewClient(deviceStore, nil),
		container: container,
		dbPath:    dbPath,
		mediaDir:  mediaDir,
		logger:    logger,
	}, nil
}

// IsLoggedIn reports whether stored credentials exist.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Start registers the event handler and connects when credentials exist.
// Without credentials the device stays unpaired until PairQR completes.
func (a *Adapter) Start(ctx context.Context, deliver func(ingest.Event)) error {
	a.deliver = deliver
	a.client.AddEventHandler(a.handleEvent)
	if !a.IsLoggedIn() {
		deliver(ingest.ConnState{State: ingest.StatePairing, Detail: "no stored credentials"})
		return nil
	}
	deliver(ingest.ConnState{State: ingest.StateConnecting})
	return a.client.Connect()
}

func (a *Adapter) handleEvent(raw any) {
	switch evt := raw.(type) {
	case *events.Message:
		m := ParseMessage(evt)
		if a.mediaDir != "" {
			m.MediaPath = a.downloadMedia(context.Background(), evt)
		}
		a.deliver(m)
	case *events.HistorySync:
		if batch := ParseHistorySync(evt); len(batch.Messages) > 0 {
			a.deliver(batch)
		}
	case *events.Connected:
		a.logger.Info("connected")
		a.deliver(ingest.ConnState{State: ingest.StateConnected})
		go a.syncContacts(context.Background())
	case *events.OfflineSyncCompleted:
		a.deliver(ingest.ConnState{State: ingest.StateReady})
	case *events.PushName:
		a.deliver(ingest.Contact{ID: evt.JID.ToNonAD().String(), Name: evt.NewPushName})
	case *events.Picture:
		a.handlePicture(evt)
	case *events.JoinedGroup:
		a.deliver(ingest.ChatMeta{ID: evt.JID.String(), Name: evt.Name, IsGroup: true})
	case *events.GroupInfo:
		if evt.Name != nil {
			a.deliver(ingest.ChatMeta{ID: evt.JID.String(), Name: evt.Name.Name, IsGroup: true})
		}
	case *events.Disconnected:
		a.logger.Warn("disconnected")
		a.deliver(ingest.ConnState{State: ingest.StateDisconnected})
	case *events.LoggedOut:
		a.logger.Warn("logged out", zap.String("reason", evt.Reason.String()))
		a.deliver(ingest.ConnState{State: ingest.StateLoggedOut, Detail: evt.Reason.String()})
	}
}

// syncContacts pushes the wire contact book, including linked-identifier
// evidence, through the event stream.
func (a *Adapter) syncContacts(ctx context.Context) {
	all, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		a.logger.Warn("load contact book", zap.Error(err))
		return
	}
	for jid, info := range all {
		pn := jid.ToNonAD()
		c := ingest.Contact{ID: pn.String(), Name: info.FullName}
		if c.Name == "" {
			c.Name = info.PushName
		}
		if pn.Server == types.DefaultUserServer && a.client.Store.LIDs != nil {
			if lid, err := a.client.Store.LIDs.GetLIDForPN(ctx, pn); err == nil && !lid.IsEmpty() {
				c.LinkedID = lid.String()
				c.PhoneID = pn.String()
			}
		}
		a.deliver(c)
	}
	a.logger.Info("contact book synced", zap.Int("contacts", len(all)))
}

func (a *Adapter) handlePicture(evt *events.Picture) {
	if evt.Remove {
		return
	}
	ctx := context.Background()
	info, err := a.client.GetProfilePictureInfo(ctx, evt.JID, &whatsmeow.GetProfilePictureParams{Preview: true})
	if err != nil || info == nil {
		return
	}
	a.deliver(ingest.ChatMeta{
		ID:       evt.JID.String(),
		IsGroup:  evt.JID.Server == types.GroupServer,
		PhotoRef: info.URL,
	})
}

// downloadMedia stores the media payload of evt under the media dir and
// returns its path. Best effort; empty means no media or a failed
// download.
func (a *Adapter) downloadMedia(ctx context.Context, evt *events.Message) string {
	var (
		dl  whatsmeow.DownloadableMessage
		ext string
	)
	switch {
	case evt.Message.GetImageMessage() != nil:
		dl, ext = evt.Message.GetImageMessage(), ".jpg"
	case evt.Message.GetVideoMessage() != nil:
		dl, ext = evt.Message.GetVideoMessage(), ".mp4"
	case evt.Message.GetAudioMessage() != nil:
		dl, ext = evt.Message.GetAudioMessage(), ".ogg"
	case evt.Message.GetStickerMessage() != nil:
		dl, ext = evt.Message.GetStickerMessage(), ".webp"
	case evt.Message.GetDocumentMessage() != nil:
		dl, ext = evt.Message.GetDocumentMessage(), filepath.Ext(evt.Message.GetDocumentMessage().GetFileName())
	default:
		return ""
	}
	data, err := a.client.Download(ctx, dl)
	if err != nil {
		a.logger.Warn("download media", zap.Error(err), zap.String("msg_id", evt.Info.ID))
		return ""
	}
	path := filepath.Join(a.mediaDir, evt.Info.ID+ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		a.logger.Warn("write media file", zap.Error(err))
		return ""
	}
	return path
}

// SendText sends a text message. Returns the server message ID.
func (a *Adapter) SendText(ctx context.Context, chatID, text string) (string, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// SendMedia uploads a local file and sends it as a media message.
func (a *Adapter) SendMedia(ctx context.Context, chatID, path, mime, caption string) (string, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read media file: %w", err)
	}

	mediaType := mediaTypeFor(mime)
	up, err := a.client.Upload(ctx, data, mediaType)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}

	var msg *waE2E.Message
	switch mediaType {
	case whatsmeow.MediaImage:
		msg = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mime),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Caption:       proto.String(caption),
		}}
	case whatsmeow.MediaVideo:
		msg = &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mime),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Caption:       proto.String(caption),
		}}
	case whatsmeow.MediaAudio:
		msg = &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mime),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	default:
		msg = &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mime),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			FileName:      proto.String(filepath.Base(path)),
			Caption:       proto.String(caption),
		}}
	}

	resp, err := a.client.SendMessage(ctx, to, msg)
	if err != nil {
		return "", fmt.Errorf("send media: %w", err)
	}
	return resp.ID, nil
}

// FetchGroupSubject looks up a group's current subject on the wire.
func (a *Adapter) FetchGroupSubject(ctx context.Context, chatID string) (string, error) {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	info, err := a.client.GetGroupInfo(ctx, jid)
	if err != nil {
		return "", fmt.Errorf("get group info: %w", err)
	}
	return info.Name, nil
}

// FetchProfilePhoto looks up a chat's profile photo URL on the wire.
// Chats without a photo return "".
func (a *Adapter) FetchProfilePhoto(ctx context.Context, chatID string) (string, error) {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	info, err := a.client.GetProfilePictureInfo(ctx, jid, &whatsmeow.GetProfilePictureParams{Preview: true})
	if err != nil {
		return "", fmt.Errorf("get profile picture: %w", err)
	}
	if info == nil {
		return "", nil
	}
	return info.URL, nil
}

func mediaTypeFor(mime string) whatsmeow.MediaType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return whatsmeow.MediaImage
	case strings.HasPrefix(mime, "video/"):
		return whatsmeow.MediaVideo
	case strings.HasPrefix(mime, "audio/"):
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

// PairQR begins a QR pairing exchange. Must be called before the first
// successful connect of an unpaired session.
func (a *Adapter) PairQR(ctx context.Context) (<-chan device.PairEvent, error) {
	if a.IsLoggedIn() {
		return nil, fmt.Errorf("already paired")
	}
	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}

	out := make(chan device.PairEvent, 10)
	go func() {
		defer close(out)

		// Connect must be called after GetQRChannel.
		if err := a.client.Connect(); err != nil {
			out <- device.PairEvent{Kind: device.PairError, Error: err.Error()}
			return
		}
		for item := range qrChan {
			switch item.Event {
			case "code":
				out <- device.PairEvent{Kind: device.PairCode, Code: item.Code}
			case "success":
				out <- device.PairEvent{Kind: device.PairSuccess}
				return
			case "timeout":
				out <- device.PairEvent{Kind: device.PairTimeout}
				return
			default:
				if item.Error != nil {
					out <- device.PairEvent{Kind: device.PairError, Error: item.Error.Error()}
					return
				}
			}
		}
	}()
	return out, nil
}

// Stop disconnects from the wire. Credentials stay in place.
func (a *Adapter) Stop() {
	a.client.Disconnect()
}

// Destroy logs out, closes the session store and removes its file.
func (a *Adapter) Destroy(ctx context.Context) error {
	if a.IsLoggedIn() {
		if err := a.client.Logout(ctx); err != nil {
			a.logger.Warn("logout", zap.Error(err))
		}
	}
	a.client.Disconnect()
	if err := a.container.Close(); err != nil {
		return err
	}
	if err := os.Remove(a.dbPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
