package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"
	"time"
)

func sign(secret, id, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(id + "." + timestamp + "."))
	mac.Write(body)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerify(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"id":"pred-1","status":"succeeded","output":"https://cdn/vid.mp4"}`)
	ts := fmt.Sprintf("%d", now.Unix())

	tests := []struct {
		name    string
		body    []byte
		id      string
		ts      string
		header  string
		secret  string
		wantErr error
	}{
		{
			name:   "valid signature",
			body:   body,
			id:     "msg_1",
			ts:     ts,
			header: sign("topsecret", "msg_1", ts, body),
			secret: "whsec_topsecret",
		},
		{
			name:   "prefixless secret",
			body:   body,
			id:     "msg_1",
			ts:     ts,
			header: sign("topsecret", "msg_1", ts, body),
			secret: "topsecret",
		},
		{
			name:   "second candidate matches",
			body:   body,
			id:     "msg_1",
			ts:     ts,
			header: "v1,bogus " + sign("topsecret", "msg_1", ts, body),
			secret: "whsec_topsecret",
		},
		{
			name:    "tampered body",
			body:    append([]byte("x"), body...),
			id:      "msg_1",
			ts:      ts,
			header:  sign("topsecret", "msg_1", ts, body),
			secret:  "whsec_topsecret",
			wantErr: ErrBadSignature,
		},
		{
			name:    "wrong secret",
			body:    body,
			id:      "msg_1",
			ts:      ts,
			header:  sign("othersecret", "msg_1", ts, body),
			secret:  "whsec_topsecret",
			wantErr: ErrBadSignature,
		},
		{
			name:    "stale timestamp",
			body:    body,
			id:      "msg_1",
			ts:      fmt.Sprintf("%d", now.Add(-10*time.Minute).Unix()),
			header:  sign("topsecret", "msg_1", fmt.Sprintf("%d", now.Add(-10*time.Minute).Unix()), body),
			secret:  "whsec_topsecret",
			wantErr: ErrStaleTimestamp,
		},
		{
			name:    "future timestamp",
			body:    body,
			id:      "msg_1",
			ts:      fmt.Sprintf("%d", now.Add(10*time.Minute).Unix()),
			header:  sign("topsecret", "msg_1", fmt.Sprintf("%d", now.Add(10*time.Minute).Unix()), body),
			secret:  "whsec_topsecret",
			wantErr: ErrStaleTimestamp,
		},
		{
			name:    "garbage timestamp",
			body:    body,
			id:      "msg_1",
			ts:      "not-a-number",
			header:  sign("topsecret", "msg_1", "not-a-number", body),
			secret:  "whsec_topsecret",
			wantErr: ErrStaleTimestamp,
		},
		{
			name:    "missing headers",
			body:    body,
			id:      "",
			ts:      ts,
			header:  sign("topsecret", "msg_1", ts, body),
			secret:  "whsec_topsecret",
			wantErr: ErrMissingHeaders,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := NewVerifier(tc.secret).WithClock(func() time.Time { return now })
			err := v.Verify(tc.body, tc.id, tc.ts, tc.header)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Verify() = %v, want nil", err)
				}
				return
			}
			if err != tc.wantErr {
				t.Fatalf("Verify() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}
