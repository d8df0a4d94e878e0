package models

// AssetRef 提取过程中发现的图片资源
// 只存在于内存队列,由下载器写入磁盘后即消失
type AssetRef struct {
	URL          string `json:"url"`
	SourceFolder string `json:"source_folder"`
	Identifier   string `json:"identifier"`
}

// ContentFragment 一个有序的内容单元(一行文本或一张图片)
type ContentFragment struct {
	Key   string
	Text  string
	Image *AssetRef
}

// Line 写入产物时的单行表示
func (f ContentFragment) Line() string {
	if f.Image != nil {
		return "[image:" + f.Image.Identifier + "]"
	}
	return f.Text
}

// ExtractionResult 单个条目的提取结果
type ExtractionResult struct {
	// Fragments 已捕获的片段(捕获顺序,落盘前排序)
	Fragments []ContentFragment

	// Images 图片标识 -> 原始src
	Images map[string]string
}

// NewExtractionResult 创建空结果
func NewExtractionResult() *ExtractionResult {
	return &ExtractionResult{
		Fragments: make([]ContentFragment, 0),
		Images:    make(map[string]string),
	}
}
