// SPDX-License-Identifier: GPL-3.0-or-later

package mooring

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Document parses the whole body as one JSON value and closes the response.
func TestResponseDocument(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		resp, closed := newTestResponse(ShapeDocument, []byte(`{"Containers": 3, "Images": 10}`))

		value, err := resp.Document()

		require.NoError(t, err)
		doc, ok := value.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(3), doc["Containers"])
		assert.Equal(t, float64(10), doc["Images"])
		assert.True(t, *closed, "response should be closed after Document")
	})

	t.Run("JSON array document", func(t *testing.T) {
		resp, closed := newTestResponse(ShapeDocument, []byte(`[{"Id": "abc"}, {"Id": "def"}]`))

		value, err := resp.Document()

		require.NoError(t, err)
		list, ok := value.([]any)
		require.True(t, ok)
		assert.Len(t, list, 2)
		assert.True(t, *closed)
	})

	t.Run("malformed document", func(t *testing.T) {
		resp, closed := newTestResponse(ShapeDocument, []byte(`{"Containers": `))

		value, err := resp.Document()

		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr)
		assert.Nil(t, value)
		assert.True(t, *closed, "response should be closed on decode error")
	})
}

// Events yields one JSON value per line and ends with io.EOF.
func TestResponseEvents(t *testing.T) {
	t.Run("newline-terminated values", func(t *testing.T) {
		body := []byte("{\"status\": \"Pulling\"}\n{\"status\": \"Downloading\"}\n")
		resp, closed := newTestResponse(ShapeEventStream, body)

		events := resp.Events()

		first, err := events.Next()
		require.NoError(t, err)
		assert.JSONEq(t, `{"status": "Pulling"}`, string(first))

		second, err := events.Next()
		require.NoError(t, err)
		assert.JSONEq(t, `{"status": "Downloading"}`, string(second))

		_, err = events.Next()
		require.ErrorIs(t, err, io.EOF)
		assert.True(t, *closed, "response should be closed at end of stream")

		// The sequence stays ended.
		_, err = events.Next()
		require.ErrorIs(t, err, io.EOF)
	})

	t.Run("final value without trailing newline", func(t *testing.T) {
		body := []byte("{\"status\": \"Pulling\"}\n{\"status\": \"Done\"}")
		resp, closed := newTestResponse(ShapeEventStream, body)

		events := resp.Events()

		first, err := events.Next()
		require.NoError(t, err)
		assert.JSONEq(t, `{"status": "Pulling"}`, string(first))

		second, err := events.Next()
		require.NoError(t, err)
		assert.JSONEq(t, `{"status": "Done"}`, string(second))
		assert.True(t, *closed)

		_, err = events.Next()
		require.ErrorIs(t, err, io.EOF)
	})

	t.Run("CRLF line endings and blank lines", func(t *testing.T) {
		body := []byte("{\"a\": 1}\r\n\r\n{\"b\": 2}\r\n")
		resp, _ := newTestResponse(ShapeEventStream, body)

		events := resp.Events()

		first, err := events.Next()
		require.NoError(t, err)
		assert.JSONEq(t, `{"a": 1}`, string(first))

		second, err := events.Next()
		require.NoError(t, err)
		assert.JSONEq(t, `{"b": 2}`, string(second))

		_, err = events.Next()
		require.ErrorIs(t, err, io.EOF)
	})

	t.Run("value split across reads", func(t *testing.T) {
		resp, _ := newTestResponse(ShapeEventStream, nil)
		resp.body = &recordingBody{
			data:      []byte("{\"status\": \"Extracting\"}\n"),
			chunkSize: 3,
		}

		events := resp.Events()

		value, err := events.Next()
		require.NoError(t, err)
		assert.JSONEq(t, `{"status": "Extracting"}`, string(value))
	})

	t.Run("malformed line latches the error", func(t *testing.T) {
		body := []byte("{\"a\": 1}\nnot json\n{\"b\": 2}\n")
		resp, closed := newTestResponse(ShapeEventStream, body)

		events := resp.Events()

		first, err := events.Next()
		require.NoError(t, err)
		assert.JSONEq(t, `{"a": 1}`, string(first))

		_, err = events.Next()
		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr)
		assert.True(t, *closed, "response should be closed on decode error")

		// The error latches: later values are not delivered.
		_, err2 := events.Next()
		assert.Equal(t, err, err2)
	})

	t.Run("empty body", func(t *testing.T) {
		resp, closed := newTestResponse(ShapeEventStream, nil)

		events := resp.Events()

		_, err := events.Next()
		require.ErrorIs(t, err, io.EOF)
		assert.True(t, *closed)
	})

	t.Run("Close releases the connection early", func(t *testing.T) {
		body := []byte("{\"a\": 1}\n{\"b\": 2}\n")
		resp, closed := newTestResponse(ShapeEventStream, body)

		events := resp.Events()

		_, err := events.Next()
		require.NoError(t, err)

		require.NoError(t, events.Close())
		assert.True(t, *closed)
	})
}

// Raw yields chunks as they arrive and ends with io.EOF.
func TestResponseRaw(t *testing.T) {
	t.Run("delivers all bytes", func(t *testing.T) {
		body := []byte("first chunk then more bytes")
		resp, closed := newTestResponse(ShapeRawStream, body)
		resp.body = &recordingBody{data: body, chunkSize: 7}

		raw := resp.Raw()

		var got []byte
		for {
			chunk, err := raw.Next()
			if err != nil {
				require.ErrorIs(t, err, io.EOF)
				break
			}
			got = append(got, chunk...)
		}

		assert.Equal(t, body, got)
		assert.True(t, *closed, "response should be closed at end of stream")
	})

	t.Run("chunk boundaries follow arrival", func(t *testing.T) {
		body := []byte("0123456789")
		resp, _ := newTestResponse(ShapeRawStream, body)
		resp.body = &recordingBody{data: body, chunkSize: 4}

		raw := resp.Raw()

		chunk, err := raw.Next()
		require.NoError(t, err)
		assert.Equal(t, []byte("0123"), chunk)

		chunk, err = raw.Next()
		require.NoError(t, err)
		assert.Equal(t, []byte("4567"), chunk)
	})

	t.Run("empty body", func(t *testing.T) {
		resp, closed := newTestResponse(ShapeRawStream, nil)

		raw := resp.Raw()

		_, err := raw.Next()
		require.ErrorIs(t, err, io.EOF)
		assert.True(t, *closed)
	})

	t.Run("Close releases the connection early", func(t *testing.T) {
		resp, closed := newTestResponse(ShapeRawStream, []byte("partial"))

		raw := resp.Raw()
		require.NoError(t, raw.Close())
		assert.True(t, *closed)
	})
}

// json.RawMessage round-trips through the event decoder unmodified except
// for line framing.
func TestEventStreamPreservesValueBytes(t *testing.T) {
	body := []byte("{\"id\":\"abc\",\"progress\":{\"current\":10,\"total\":100}}\n")
	resp, _ := newTestResponse(ShapeEventStream, body)

	events := resp.Events()

	value, err := events.Next()
	require.NoError(t, err)

	var decoded struct {
		ID       string `json:"id"`
		Progress struct {
			Current int `json:"current"`
			Total   int `json:"total"`
		} `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(value, &decoded))
	assert.Equal(t, "abc", decoded.ID)
	assert.Equal(t, 10, decoded.Progress.Current)
	assert.Equal(t, 100, decoded.Progress.Total)
}
