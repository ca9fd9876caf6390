package transfer

import (
	"encoding/xml"
	"time"

	"github.com/pkg/errors"
)

// FileInfoMimeType тип документа с описанием файла на HTTP сервере
const FileInfoMimeType = "application/vnd.gsma.rcs-ft-http+xml"

// ThumbnailInfo описание миниатюры
type ThumbnailInfo struct {
	Size     int64
	MimeType string
	URL      string
	Until    time.Time
}

// FileInfo описание загруженного файла, которое сервер возвращает после загрузки
// и которое отправляется получателю в чат сообщении.
type FileInfo struct {
	Name      string
	Size      int64
	MimeType  string
	URL       string
	Until     time.Time
	Thumbnail *ThumbnailInfo
}

type xmlData struct {
	URL   string `xml:"url,attr"`
	Until string `xml:"until,attr,omitempty"`
}

type xmlFileInfo struct {
	Type        string  `xml:"type,attr"`
	FileSize    int64   `xml:"file-size"`
	FileName    string  `xml:"file-name,omitempty"`
	ContentType string  `xml:"content-type"`
	Data        xmlData `xml:"data"`
}

type xmlFile struct {
	XMLName xml.Name      `xml:"file"`
	Infos   []xmlFileInfo `xml:"file-info"`
}

// ParseFileInfo разбирает документ. Документ без описания файла или без URL некорректен.
func ParseFileInfo(data []byte) (*FileInfo, error) {
	var doc xmlFile
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse file info")
	}

	var info *FileInfo
	var thumb *ThumbnailInfo
	for _, fi := range doc.Infos {
		until := parseUntil(fi.Data.Until)
		switch fi.Type {
		case "file":
			info = &FileInfo{
				Name:     fi.FileName,
				Size:     fi.FileSize,
				MimeType: fi.ContentType,
				URL:      fi.Data.URL,
				Until:    until,
			}
		case "thumbnail":
			thumb = &ThumbnailInfo{
				Size:     fi.FileSize,
				MimeType: fi.ContentType,
				URL:      fi.Data.URL,
				Until:    until,
			}
		}
	}
	if info == nil {
		return nil, errors.New("file info has no file element")
	}
	if info.URL == "" {
		return nil, errors.New("file info has no url")
	}
	info.Thumbnail = thumb
	return info, nil
}

// Build сериализует документ
func (f *FileInfo) Build() ([]byte, error) {
	doc := xmlFile{}
	if f.Thumbnail != nil {
		doc.Infos = append(doc.Infos, xmlFileInfo{
			Type:        "thumbnail",
			FileSize:    f.Thumbnail.Size,
			ContentType: f.Thumbnail.MimeType,
			Data:        xmlData{URL: f.Thumbnail.URL, Until: formatUntil(f.Thumbnail.Until)},
		})
	}
	doc.Infos = append(doc.Infos, xmlFileInfo{
		Type:        "file",
		FileSize:    f.Size,
		FileName:    f.Name,
		ContentType: f.MimeType,
		Data:        xmlData{URL: f.URL, Until: formatUntil(f.Until)},
	})

	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal file info")
	}
	return append([]byte(xml.Header), out...), nil
}

func parseUntil(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatUntil(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
