package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandWatch はヘッドレスクライアントとしてピンの変更を購読し続けることを示す。
	CommandWatch Command = "watch"
	// CommandPost はヘッドレスクライアントとして下書きを作成し送信することを示す。
	CommandPost Command = "post"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	case "watch":
		return CommandWatch
	case "post":
		return CommandPost
	default:
		return CommandServe
	}
}

// IsClient はAPIサーバーではなくヘッドレスクライアントとして動くコマンドかを返す。
func (c Command) IsClient() bool {
	return c == CommandWatch || c == CommandPost
}
