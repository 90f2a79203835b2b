package corpus

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unioffice/spreadsheet"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"

	apperrors "github.com/aihub/docqa-go/internal/errors"
)

// FileParser 文件解析器接口
type FileParser interface {
	Parse(reader io.Reader, filename string) (string, error)
	Supports(filename string) bool
}

// TextParser 文本文件解析器
type TextParser struct{}

func (p *TextParser) Supports(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".txt" || ext == ".md" || ext == ".markdown"
}

func (p *TextParser) Parse(reader io.Reader, filename string) (string, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取文件失败: %w", err)
	}
	if !utf8Valid(content) {
		return "", fmt.Errorf("文件不是有效的UTF-8文本: %s", filename)
	}
	return string(content), nil
}

// PDFParser PDF文件解析器，逐页提取并插入页标记
type PDFParser struct{}

func (p *PDFParser) Supports(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) == ".pdf"
}

func (p *PDFParser) Parse(reader io.Reader, filename string) (string, error) {
	pdfBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取PDF文件失败: %w", err)
	}

	pdfReader, err := model.NewPdfReader(bytes.NewReader(pdfBytes))
	if err != nil {
		return "", fmt.Errorf("解析PDF失败: %w", err)
	}

	var textBuilder strings.Builder
	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("获取PDF页数失败: %w", err)
	}

	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			continue
		}

		ex, err := extractor.New(page)
		if err != nil {
			continue
		}

		text, err := ex.ExtractText()
		if err != nil {
			continue
		}

		textBuilder.WriteString(fmt.Sprintf("--- Page %d ---\n", i))
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}

// WordParser Word文档解析器
type WordParser struct{}

func (p *WordParser) Supports(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) == ".docx"
}

func (p *WordParser) Parse(reader io.Reader, filename string) (string, error) {
	docBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取Word文件失败: %w", err)
	}

	// 使用bytes.Reader实现ReaderAt接口
	readerAt := bytes.NewReader(docBytes)
	doc, err := document.Read(readerAt, int64(len(docBytes)))
	if err != nil {
		return "", fmt.Errorf("解析Word文档失败: %w", err)
	}
	defer doc.Close()

	var textBuilder strings.Builder
	for _, para := range doc.Paragraphs() {
		for _, run := range para.Runs() {
			textBuilder.WriteString(run.Text())
		}
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}

// ExcelParser Excel文件解析器
type ExcelParser struct{}

func (p *ExcelParser) Supports(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) == ".xlsx"
}

func (p *ExcelParser) Parse(reader io.Reader, filename string) (string, error) {
	excelBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取Excel文件失败: %w", err)
	}

	readerAt := bytes.NewReader(excelBytes)
	ss, err := spreadsheet.Read(readerAt, int64(len(excelBytes)))
	if err != nil {
		return "", fmt.Errorf("解析Excel文档失败: %w", err)
	}
	defer ss.Close()

	var textBuilder strings.Builder
	for _, sheet := range ss.Sheets() {
		textBuilder.WriteString(fmt.Sprintf("工作表: %s\n", sheet.Name()))

		for _, row := range sheet.Rows() {
			var rowText []string
			for _, cell := range row.Cells() {
				rowText = append(rowText, cell.GetString())
			}
			if len(rowText) > 0 {
				textBuilder.WriteString(strings.Join(rowText, "\t"))
				textBuilder.WriteString("\n")
			}
		}
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}

// CSVParser CSV文件解析器，逐行平铺为文本
type CSVParser struct{}

func (p *CSVParser) Supports(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) == ".csv"
}

func (p *CSVParser) Parse(reader io.Reader, filename string) (string, error) {
	r := csv.NewReader(reader)
	r.FieldsPerRecord = -1

	var textBuilder strings.Builder
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("解析CSV失败: %w", err)
		}
		textBuilder.WriteString(strings.Join(record, ", "))
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}

// FileParserManager 文件解析器管理器
type FileParserManager struct {
	parsers []FileParser
}

// NewFileParserManager 创建文件解析器管理器
func NewFileParserManager() *FileParserManager {
	return &FileParserManager{
		parsers: []FileParser{
			&PDFParser{},
			&WordParser{},
			&ExcelParser{},
			&CSVParser{},
			&TextParser{},
		},
	}
}

// ParseFile 解析文件，提取结果为空视为解析失败
func (m *FileParserManager) ParseFile(reader io.Reader, filename string) (string, error) {
	for _, parser := range m.parsers {
		if parser.Supports(filename) {
			text, err := parser.Parse(reader, filename)
			if err != nil {
				return "", apperrors.NewParseError(filename, err)
			}
			if strings.TrimSpace(text) == "" {
				return "", apperrors.NewParseError(filename, fmt.Errorf("no text extracted"))
			}
			return text, nil
		}
	}
	return "", apperrors.NewParseError(filename, fmt.Errorf("unsupported file format"))
}

// Supports 检查文件格式是否受支持
func (m *FileParserManager) Supports(filename string) bool {
	for _, parser := range m.parsers {
		if parser.Supports(filename) {
			return true
		}
	}
	return false
}

// GetSupportedFormats 获取支持的文件格式
func (m *FileParserManager) GetSupportedFormats() []string {
	return []string{".pdf", ".docx", ".xlsx", ".csv", ".txt", ".md", ".markdown"}
}

func utf8Valid(b []byte) bool {
	return utf8.Valid(b)
}
