package content

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const defaultSVGSize = 1024

// maxRasterDim caps rasterized SVG dimensions so a malicious viewBox cannot
// force a huge allocation.
const maxRasterDim = 4096

type probed struct {
	width  int
	height int
	src    string // replacement source, empty when unchanged
}

// ImageProber resolves image readiness before measurement: every image gets
// explicit dimensions so the measurement surface reports stable heights, and
// SVG sources are rasterized to PNG data URIs.
type ImageProber struct {
	baseDir string
	log     *zap.Logger
	cache   map[string]probed
}

func NewImageProber(baseDir string, log *zap.Logger) *ImageProber {
	if log == nil {
		log = zap.NewNop()
	}
	return &ImageProber{baseDir: baseDir, log: log.Named("images"), cache: make(map[string]probed)}
}

// ProbeAll resolves every image in the document. Load failures are treated as
// load-complete so pagination never blocks on a broken image.
func (p *ImageProber) ProbeAll(ctx context.Context, doc *etree.Document) error {
	for _, img := range doc.FindElements("//img") {
		if err := ctx.Err(); err != nil {
			return err
		}
		src := img.SelectAttrValue("src", "")
		if src == "" {
			continue
		}
		res := p.probe(src)
		if res.width > 0 && img.SelectAttr("width") == nil {
			img.CreateAttr("width", strconv.Itoa(res.width))
		}
		if res.height > 0 && img.SelectAttr("height") == nil {
			img.CreateAttr("height", strconv.Itoa(res.height))
		}
		if res.src != "" {
			img.CreateAttr("src", res.src)
		}
	}
	return nil
}

func (p *ImageProber) probe(src string) probed {
	if res, ok := p.cache[src]; ok {
		return res
	}
	res := p.resolve(src)
	p.cache[src] = res
	return res
}

func (p *ImageProber) resolve(src string) probed {
	data, err := p.load(src)
	if err != nil {
		// treated as load-complete, the reader shows a broken image box
		p.log.Debug("Unable to load image, continuing without dimensions", zap.String("src", truncateSrc(src)), zap.Error(err))
		return probed{}
	}
	if data == nil {
		// remote source, nothing to probe
		return probed{}
	}

	if isSVG(data) {
		img, err := rasterizeSVG(data)
		if err != nil {
			p.log.Debug("Unable to rasterize SVG image", zap.String("src", truncateSrc(src)), zap.Error(err))
			return probed{}
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			p.log.Debug("Unable to encode rasterized SVG", zap.Error(err))
			return probed{}
		}
		b := img.Bounds()
		return probed{
			width:  b.Dx(),
			height: b.Dy(),
			src:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		}
	}

	if kind, err := filetype.Image(data); err != nil || kind == filetype.Unknown {
		p.log.Debug("Unsupported image type", zap.String("src", truncateSrc(src)))
		return probed{}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		p.log.Debug("Unable to decode image config", zap.String("src", truncateSrc(src)), zap.Error(err))
		return probed{}
	}
	return probed{width: cfg.Width, height: cfg.Height}
}

func (p *ImageProber) load(src string) ([]byte, error) {
	switch {
	case strings.HasPrefix(src, "data:"):
		idx := strings.Index(src, "base64,")
		if idx < 0 {
			return nil, fmt.Errorf("unsupported data URI encoding")
		}
		return base64.StdEncoding.DecodeString(src[idx+len("base64,"):])
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		// remote images are left to the rendering layer
		return nil, nil
	default:
		path := src
		if !filepath.IsAbs(path) && p.baseDir != "" {
			path = filepath.Join(p.baseDir, path)
		}
		return os.ReadFile(path)
	}
}

func isSVG(data []byte) bool {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.Contains(head, []byte("<svg"))
}

// rasterizeSVG renders SVG data at its intrinsic viewBox size (clamped to
// maxRasterDim) on a white background.
func rasterizeSVG(svgData []byte) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		return nil, err
	}

	w := int(math.Ceil(icon.ViewBox.W))
	h := int(math.Ceil(icon.ViewBox.H))
	if w <= 0 {
		w = defaultSVGSize
	}
	if h <= 0 {
		h = defaultSVGSize
	}
	if w > maxRasterDim || h > maxRasterDim {
		s := min(float64(maxRasterDim)/float64(w), float64(maxRasterDim)/float64(h))
		w = max(int(math.Round(float64(w)*s)), 1)
		h = max(int(math.Round(float64(h)*s)), 1)
	}

	icon.SetTarget(0, 0, float64(w), float64(h))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.RGBA{255, 255, 255, 255}}, image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(w, h, dst, dst.Bounds())
	dasher := rasterx.NewDasher(w, h, scanner)
	icon.Draw(dasher, 1.0)
	return dst, nil
}

// FitCover scales a cover background image down to fit the viewport and
// returns it as a PNG data URI. The original is returned untouched when it
// cannot be processed.
func (p *ImageProber) FitCover(src string, width, height int) string {
	data, err := p.load(src)
	if err != nil || data == nil {
		return src
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		p.log.Debug("Unable to decode cover image", zap.String("src", truncateSrc(src)), zap.Error(err))
		return src
	}
	b := img.Bounds()
	if b.Dx() > width || b.Dy() > height {
		img = imaging.Fit(img, width, height, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return src
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func truncateSrc(src string) string {
	if len(src) > 64 {
		return src[:64] + "..."
	}
	return src
}
