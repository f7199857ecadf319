package imaging

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

const (
	fitsBlockSize  = 2880
	fitsRecordSize = 80
)

// FitsMetadata holds parsed FITS header key-value pairs.
type FitsMetadata struct {
	Headers map[string]string
}

func NewFitsMetadata() *FitsMetadata {
	return &FitsMetadata{Headers: make(map[string]string)}
}

func (m *FitsMetadata) GetString(key string) string {
	return m.Headers[strings.ToUpper(key)]
}

func (m *FitsMetadata) GetDouble(key string) (float64, bool) {
	v, ok := m.Headers[strings.ToUpper(key)]
	if !ok {
		return 0, false
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return d, true
}

func (m *FitsMetadata) ExposureTime() (float64, bool) {
	if v, ok := m.GetDouble("EXPTIME"); ok {
		return v, true
	}
	return m.GetDouble("EXPOSURE")
}

func (m *FitsMetadata) BackgroundRMS() (float64, bool) { return m.GetDouble("BKGRMS") }
func (m *FitsMetadata) PixelScale() (float64, bool)    { return m.GetDouble("PIXSCALE") }
func (m *FitsMetadata) Filter() string                 { return m.GetString("FILTER") }

// FitsImage is a primary-HDU image in physical units (BSCALE/BZERO applied).
type FitsImage struct {
	Pixels   []float64
	Width    int
	Height   int
	Metadata *FitsMetadata
}

// Mat returns the pixels as a 2-D image sharing the pixel slice.
func (f *FitsImage) Mat() Mat {
	return Mat{data: f.Pixels, rows: f.Height, cols: f.Width}
}

// ReadFits reads FITS headers and pixel data from a file.
func ReadFits(filePath string) (*FitsImage, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening FITS file: %w", err)
	}
	defer f.Close()
	return readFitsFromReader(bufio.NewReader(f))
}

// ReadFitsFromBytes reads FITS headers and pixel data from a byte slice.
func ReadFitsFromBytes(data []byte) (*FitsImage, error) {
	return readFitsFromReader(bytes.NewReader(data))
}

func readFitsFromReader(r io.Reader) (*FitsImage, error) {
	var bitpix, naxis, width, height int
	bzero := 0.0
	bscale := 1.0
	headerDone := false
	metadata := NewFitsMetadata()

	recordBuf := make([]byte, fitsRecordSize)
	recordsPerBlock := fitsBlockSize / fitsRecordSize

	for !headerDone {
		for i := 0; i < recordsPerBlock; i++ {
			if _, err := io.ReadFull(r, recordBuf); err != nil {
				return nil, fmt.Errorf("reading FITS header record: %w", err)
			}
			record := string(recordBuf)
			keyword := strings.TrimSpace(record[:8])

			if keyword == "END" {
				headerDone = true
				if remaining := recordsPerBlock - 1 - i; remaining > 0 {
					if _, err := io.CopyN(io.Discard, r, int64(remaining*fitsRecordSize)); err != nil {
						return nil, fmt.Errorf("skipping FITS header padding: %w", err)
					}
				}
				break
			}

			if record[8] != '=' || record[9] != ' ' {
				continue
			}
			rawValue := strings.TrimSpace(strings.SplitN(record[10:], "/", 2)[0])
			if parsed := parseFitsValue(rawValue); keyword != "" && parsed != "" {
				metadata.Headers[strings.ToUpper(keyword)] = parsed
			}

			switch keyword {
			case "BITPIX":
				bitpix, _ = strconv.Atoi(rawValue)
			case "NAXIS":
				naxis, _ = strconv.Atoi(rawValue)
			case "NAXIS1":
				width, _ = strconv.Atoi(rawValue)
			case "NAXIS2":
				height, _ = strconv.Atoi(rawValue)
			case "BZERO":
				bzero, _ = strconv.ParseFloat(rawValue, 64)
			case "BSCALE":
				bscale, _ = strconv.ParseFloat(rawValue, 64)
			}
		}
	}

	if naxis < 2 || width == 0 || height == 0 {
		return nil, fmt.Errorf("invalid FITS: NAXIS=%d, NAXIS1=%d, NAXIS2=%d", naxis, width, height)
	}

	numPixels := width * height
	bytesPerPixel := abs(bitpix) / 8
	if bytesPerPixel == 0 {
		return nil, fmt.Errorf("unsupported BITPIX: %d", bitpix)
	}
	rawBytes := make([]byte, numPixels*bytesPerPixel)
	if _, err := io.ReadFull(r, rawBytes); err != nil {
		return nil, fmt.Errorf("reading BITPIX %d pixel data: %w", bitpix, err)
	}

	pixels := make([]float64, numPixels)
	for i := 0; i < numPixels; i++ {
		var raw float64
		switch bitpix {
		case 8:
			raw = float64(rawBytes[i])
		case 16:
			raw = float64(int16(binary.BigEndian.Uint16(rawBytes[i*2:])))
		case 32:
			raw = float64(int32(binary.BigEndian.Uint32(rawBytes[i*4:])))
		case -32:
			raw = float64(math.Float32frombits(binary.BigEndian.Uint32(rawBytes[i*4:])))
		case -64:
			raw = math.Float64frombits(binary.BigEndian.Uint64(rawBytes[i*8:]))
		default:
			return nil, fmt.Errorf("unsupported BITPIX: %d", bitpix)
		}
		pixels[i] = raw*bscale + bzero
	}

	return &FitsImage{
		Pixels:   pixels,
		Width:    width,
		Height:   height,
		Metadata: metadata,
	}, nil
}

// WriteFits writes img as a BITPIX -64 primary HDU. Extra numeric header
// keywords (at most 8 characters) are written in sorted order.
func WriteFits(filePath string, img Mat, headers map[string]float64) error {
	f, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("create FITS file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := EncodeFits(w, img, headers); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush FITS file: %w", err)
	}
	return f.Close()
}

// EncodeFits writes the FITS byte stream for img to w.
func EncodeFits(w io.Writer, img Mat, headers map[string]float64) error {
	if img.Empty() {
		return ErrEmpty
	}
	var header bytes.Buffer
	writeCard := func(key, value string) {
		header.WriteString(fmt.Sprintf("%-8s= %20s", key, value))
		header.WriteString(strings.Repeat(" ", fitsRecordSize-30))
	}
	writeCard("SIMPLE", "T")
	writeCard("BITPIX", "-64")
	writeCard("NAXIS", "2")
	writeCard("NAXIS1", strconv.Itoa(img.cols))
	writeCard("NAXIS2", strconv.Itoa(img.rows))

	upper := make(map[string]float64, len(headers))
	keys := make([]string, 0, len(headers))
	for k, v := range headers {
		if len(k) > 8 {
			return fmt.Errorf("FITS keyword %q longer than 8 characters", k)
		}
		k = strings.ToUpper(k)
		upper[k] = v
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeCard(k, strconv.FormatFloat(upper[k], 'G', 14, 64))
	}
	header.WriteString(fmt.Sprintf("%-80s", "END"))
	padBlock(&header, ' ')
	if _, err := w.Write(header.Bytes()); err != nil {
		return fmt.Errorf("writing FITS header: %w", err)
	}

	var body bytes.Buffer
	body.Grow(len(img.data)*8 + fitsBlockSize)
	buf := make([]byte, 8)
	for _, v := range img.data {
		binary.BigEndian.PutUint64(buf, math.Float64bits(v))
		body.Write(buf)
	}
	padBlock(&body, 0)
	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("writing FITS pixel data: %w", err)
	}
	return nil
}

func padBlock(b *bytes.Buffer, fill byte) {
	if rem := b.Len() % fitsBlockSize; rem != 0 {
		b.Write(bytes.Repeat([]byte{fill}, fitsBlockSize-rem))
	}
}

func parseFitsValue(rawValue string) string {
	switch {
	case rawValue == "":
		return ""
	case rawValue == "T":
		return "True"
	case rawValue == "F":
		return "False"
	case strings.HasPrefix(rawValue, "'"):
		if endQuote := strings.LastIndex(rawValue, "'"); endQuote > 0 {
			return strings.TrimRight(rawValue[1:endQuote], " ")
		}
		return strings.TrimLeft(strings.TrimRight(rawValue, " "), "'")
	}
	return rawValue
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
