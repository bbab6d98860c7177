package twiliowhatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "+393331234567", "Ciao")
	require.NoError(t, err)
	require.Len(t, mock.SentMessages, 1)
	assert.Equal(t, "Ciao", mock.SentMessages[0].Body)
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "whatsapp:+393331234567", Address("+393331234567"))
	assert.Equal(t, "whatsapp:+393331234567", Address(" whatsapp:+393331234567 "))
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	_, err := NewClient()
	assert.Error(t, err)

	_, err = NewClient(WithAccountSID("AC1"), WithAuthToken("tok"))
	assert.Error(t, err)

	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromWhats("+14155238886"))
	require.NoError(t, err)
	assert.Equal(t, "whatsapp:+14155238886", c.fromWhats)
}

func TestParseWebhook(t *testing.T) {
	tests := []struct {
		name  string
		form  url.Values
		phone string
		text  string
		image string
	}{
		{
			name:  "text",
			form:  url.Values{"From": {"whatsapp:+393331234567"}, "Body": {"Ciao"}, "ProfileName": {"Marta"}, "MessageSid": {"SM1"}, "NumMedia": {"0"}},
			phone: "+393331234567",
			text:  "Ciao",
		},
		{
			name:  "image with caption",
			form:  url.Values{"From": {"whatsapp:+393331234567"}, "Body": {"guarda"}, "NumMedia": {"1"}, "MediaUrl0": {"https://api.twilio.com/m/1"}, "MediaContentType0": {"image/jpeg"}},
			phone: "+393331234567",
			text:  "guarda",
			image: "https://api.twilio.com/m/1",
		},
		{
			name:  "audio ignored",
			form:  url.Values{"From": {"whatsapp:+393331234567"}, "NumMedia": {"1"}, "MediaUrl0": {"https://api.twilio.com/m/2"}, "MediaContentType0": {"audio/ogg"}},
			phone: "+393331234567",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseWebhook(tt.form)
			require.NoError(t, err)
			assert.Equal(t, tt.phone, msg.RawPhone)
			assert.Equal(t, tt.text, msg.MessageText)
			assert.Equal(t, tt.image, msg.ImageURL)
		})
	}

	msg, err := ParseWebhook(url.Values{"From": {"whatsapp:+393331234567"}, "ProfileName": {" Marta "}, "MessageSid": {"SM9"}})
	require.NoError(t, err)
	assert.Equal(t, "Marta", msg.SubscriberName)
	assert.Equal(t, "SM9", msg.MessageID)

	_, err = ParseWebhook(url.Values{"Body": {"x"}})
	assert.ErrorIs(t, err, ErrMissingSender)
}

// sign computes a Twilio request signature.
func sign(token, u string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := u
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidator(t *testing.T) {
	const token = "secret-token"
	u := "https://example.com/webhook/twilio"
	form := url.Values{"From": {"whatsapp:+393331234567"}, "Body": {"Ciao"}, "MessageSid": {"SM1"}}

	v := NewValidator(token)
	assert.True(t, v.Validate(u, form, sign(token, u, form)))
	assert.False(t, v.Validate(u, form, sign("other", u, form)))

	form.Set("Body", "tampered")
	assert.False(t, v.Validate(u, form, sign(token, u, url.Values{"From": {"whatsapp:+393331234567"}, "Body": {"Ciao"}, "MessageSid": {"SM1"}})))
}
