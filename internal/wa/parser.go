package wa

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/wapanel/wapanel/internal/convo"
	"github.com/wapanel/wapanel/internal/ingest"
)

// ParseMessage normalizes a live message event.
func ParseMessage(evt *events.Message) ingest.Message {
	return ingest.Message{
		ChatID:     evt.Info.Chat.String(),
		SenderID:   evt.Info.Sender.String(),
		SenderName: evt.Info.PushName,
		MsgID:      evt.Info.ID,
		FromMe:     evt.Info.IsFromMe,
		Timestamp:  evt.Info.Timestamp.UnixMilli(),
		Type:       detectType(evt.Message),
		Body:       extractBody(evt.Message),
		Location:   extractLocation(evt.Message),
	}
}

// ParseHistorySync flattens a history snapshot into one batch.
func ParseHistorySync(evt *events.HistorySync) ingest.History {
	data := evt.Data
	if data == nil {
		return ingest.History{}
	}

	var batch ingest.History
	for _, conv := range data.GetConversations() {
		chatID := conv.GetID()
		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			m := wmsg.GetMessage()
			batch.Messages = append(batch.Messages, ingest.Message{
				ChatID:    chatID,
				SenderID:  wmsg.GetKey().GetParticipant(),
				MsgID:     wmsg.GetKey().GetID(),
				FromMe:    wmsg.GetKey().GetFromMe(),
				Timestamp: int64(wmsg.GetMessageTimestamp()) * 1000,
				Type:      detectType(m),
				Body:      extractBody(m),
				Location:  extractLocation(m),
			})
		}
	}
	return batch
}

func extractBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

func extractLocation(msg *waE2E.Message) *convo.Location {
	loc := msg.GetLocationMessage()
	if loc == nil {
		return nil
	}
	return &convo.Location{
		Lat: loc.GetDegreesLatitude(),
		Lng: loc.GetDegreesLongitude(),
	}
}

func detectType(msg *waE2E.Message) string {
	if msg == nil {
		return ingest.TypeUnknown
	}
	switch {
	case msg.GetProtocolMessage() != nil:
		return ingest.TypeProtocol
	case msg.GetReactionMessage() != nil:
		return ingest.TypeReaction
	case msg.GetPollCreationMessage() != nil || msg.GetPollUpdateMessage() != nil:
		return ingest.TypePoll
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return ingest.TypeText
	case msg.GetImageMessage() != nil:
		return ingest.TypeImage
	case msg.GetVideoMessage() != nil:
		return ingest.TypeVideo
	case msg.GetAudioMessage() != nil:
		return ingest.TypeAudio
	case msg.GetDocumentMessage() != nil:
		return ingest.TypeDocument
	case msg.GetStickerMessage() != nil:
		return ingest.TypeSticker
	case msg.GetContactMessage() != nil:
		return ingest.TypeContact
	case msg.GetLocationMessage() != nil:
		return ingest.TypeLocation
	default:
		return ingest.TypeUnknown
	}
}
