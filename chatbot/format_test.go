package chatbot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/markovalexander/dynamic-batching-tg/api"
)

func TestFormatReply(t *testing.T) {
	resp := &api.ProcessResponse{
		Message:        "Response for [hi]",
		BatchID:        3,
		RequestID:      7,
		BatchSize:      2,
		ProcessingTime: 0.0021,
		OtherResponses: []string{"Response for [hi]", `Response for ["yo"]`},
	}

	want := "Response for [hi]\n" +
		"Meta: [ Batch ID: 3\n" +
		"Request ID: 7\n" +
		"Batch Size: 2\n" +
		"Processing Time: 0.0021\n" +
		`All Responses: ["Response for [hi]", "Response for [\"yo\"]"] ]`

	assert.Equal(t, want, FormatReply(resp))
}

func TestFormatReply_EmptyList(t *testing.T) {
	out := FormatReply(&api.ProcessResponse{Message: "m"})
	assert.Contains(t, out, "All Responses: [] ]")
	assert.Contains(t, out, "Processing Time: 0\n")
}
