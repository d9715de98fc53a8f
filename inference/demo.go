package inference

import "path/filepath"

// DemoDir is where the demo images live.
const DemoDir = "dataset/test/program"

// DemoImages are the sample pages classified when no image is given on the
// command line. Only the first one is evaluated.
var DemoImages = []string{
	"5766977434904806573.jpg",
	"5791653254679694355.jpg",
	"5830390015693884381.jpg",
	"5830390015693884384.jpg",
	"5864231411638799393.jpg",
	"5868587586509982284.jpg",
	"5868587586509982287.jpg",
	"6014827967353570547 (1).jpg",
	"6019273404533821928.jpg",
	"6030462807952180450 (1).jpg",
}

// DemoImage returns the path of the first demo image under dir (DemoDir
// when empty).
func DemoImage(dir string) string {
	if dir == "" {
		dir = DemoDir
	}
	return filepath.Join(dir, DemoImages[0])
}
