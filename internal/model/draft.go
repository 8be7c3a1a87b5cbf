package model

// Draft はクライアントが作成中の未送信ピンを表す。
// 位置だけが必須で、タイトル・本文・画像は入力に応じて埋まる。
// サーバーへ送信されるまでピン一覧には含まれない。
type Draft struct {
	Latitude  float64
	Longitude float64
	Title     string
	Content   string
	ImageURL  string
	// ImageFile はアップロード前のローカル画像のパス。
	ImageFile string
}

// HasImage は画像URLまたはアップロード待ちの画像があるかを返す。
func (d Draft) HasImage() bool {
	return d.ImageURL != "" || d.ImageFile != ""
}

// Complete は送信に必要なタイトル・本文・画像がすべて揃っているかを返す。
func (d Draft) Complete() bool {
	return d.Title != "" && d.Content != "" && d.HasImage()
}
