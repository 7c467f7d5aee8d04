package respond

import (
	"regexp"
)

var (
	// Summarizer API キーパターン
	// 注意: anthropicKeyPatternを先に適用する（より具体的なパターンから）
	anthropicKeyPattern = regexp.MustCompile(`sk-ant-[a-zA-Z0-9-_]+`)
	// OpenAIのパターンは、既にマスクされた文字列（*を含む）にマッチしないようにする
	openaiKeyPattern = regexp.MustCompile(`sk-[a-zA-Z0-9]{10,}`)

	// 接続URL内のパスワードパターン（QUEUE_STORE_URLなどのDSN）
	dsnPasswordPattern = regexp.MustCompile(`://([^:/]+):([^@]+)@`)

	// サービストークンパターン（CMS・admin APIのAuthorizationヘッダー）
	bearerTokenPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`)
)

// SanitizeError は機密情報をマスクしたエラーメッセージを返す。
// 対象: summarizer のAPIキー、Redis接続URLのパスワード、
// CMS/adminのサービストークン。
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()

	// APIキーのマスク（順序重要: より具体的なパターンから適用）
	msg = anthropicKeyPattern.ReplaceAllString(msg, "sk-ant-****")
	msg = openaiKeyPattern.ReplaceAllString(msg, "sk-****")

	// DSNパスワードのマスク
	msg = dsnPasswordPattern.ReplaceAllString(msg, "://$1:****@")

	// Bearerトークンのマスク
	msg = bearerTokenPattern.ReplaceAllString(msg, "Bearer ****")

	return msg
}
