package chatbot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/markovalexander/dynamic-batching-tg/api"
)

// FormatReply 把路由回复渲染为发给用户的文本：
//
//	<message>
//	Meta: [ Batch ID: 1
//	Request ID: 2
//	Batch Size: 2
//	Processing Time: 0.5
//	All Responses: ["a", "b"] ]
func FormatReply(resp *api.ProcessResponse) string {
	var b strings.Builder
	b.WriteString(resp.Message)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Meta: [ Batch ID: %d\nRequest ID: %d\nBatch Size: %d\nProcessing Time: %s\nAll Responses: %s ]",
		resp.BatchID,
		resp.RequestID,
		resp.BatchSize,
		strconv.FormatFloat(resp.ProcessingTime, 'f', -1, 64),
		quoteList(resp.OtherResponses),
	)
	return b.String()
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = strconv.Quote(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
