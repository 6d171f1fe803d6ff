package paginate

import (
	"testing"

	"folio/content"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		el   content.Element
		want Class
	}{
		{"paragraph", content.Element{Tag: "p", HTML: `<p>text</p>`}, ClassSplittable},
		{"blockquote", content.Element{Tag: "blockquote", HTML: `<blockquote>text</blockquote>`}, ClassSplittable},
		{"image", content.Element{Tag: "img", HTML: `<img src="x.png"/>`}, ClassAtomic},
		{"video", content.Element{Tag: "video", HTML: `<video src="x.mp4"></video>`}, ClassAtomic},
		{"rule", content.Element{Tag: "hr", HTML: `<hr/>`}, ClassAtomic},
		{"heading", content.Element{Tag: "h3", HTML: `<h3>part</h3>`}, ClassAtomic},
		{"poem", content.Element{Tag: "div", HTML: `<div class="poem"><p>verse</p></div>`}, ClassAtomic},
		{"dinkus", content.Element{Tag: "p", HTML: `<p class="dinkus">* * *</p>`}, ClassAtomic},
		{"figure_of_atomics", content.Element{Tag: "figure", HTML: `<figure><img src="x.png"/><img src="y.png"/></figure>`}, ClassAtomic},
		{"div_with_text", content.Element{Tag: "div", HTML: `<div><img src="x.png"/> caption text</div>`}, ClassSplittable},
		{"karaoke", content.Element{Tag: "div", HTML: `<div class="karaoke" data-karaoke-id="k1" data-timings="[]">hi</div>`}, ClassKaraoke},
		{"karaoke_beats_atomic_content", content.Element{Tag: "div", HTML: `<div data-karaoke-id="k2" data-timings="[]"><img src="x.png"/></div>`}, ClassKaraoke},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.el); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsSubordinateHeading(t *testing.T) {
	if IsSubordinateHeading(content.Element{Tag: "h1"}) {
		t.Fatal("chapter title level is not subordinate")
	}
	for _, tag := range []string{"h2", "h3", "h4", "h5", "h6"} {
		if !IsSubordinateHeading(content.Element{Tag: tag}) {
			t.Fatalf("%s should be subordinate", tag)
		}
	}
	if IsSubordinateHeading(content.Element{Tag: "p"}) {
		t.Fatal("paragraph is not a heading")
	}
}
