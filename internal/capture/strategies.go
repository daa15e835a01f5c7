package capture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

// platformStrategies returns the ordered screenshot chain for the current OS.
// Order matters: the most common tool goes first, the rest are fallbacks for
// machines where it is missing or broken.
func platformStrategies() []Strategy {
	switch runtime.GOOS {
	case "darwin":
		return []Strategy{
			fileStrategy("screencapture", "screencapture", "-x", "-t", "png"),
		}
	case "windows":
		return []Strategy{powershellStrategy()}
	default: // linux and the rest of the unixes
		return []Strategy{
			fileStrategy("gnome-screenshot", "gnome-screenshot", "-f"),
			fileStrategy("scrot", "scrot", "-o"),
			fileStrategy("imagemagick-import", "import", "-window", "root"),
		}
	}
}

// fileStrategy runs a screenshot tool that writes to a path given as its last
// argument, then reads the result back.
func fileStrategy(name, bin string, args ...string) Strategy {
	return Strategy{
		Name: name,
		Grab: func(ctx context.Context) ([]byte, error) {
			if _, err := exec.LookPath(bin); err != nil {
				return nil, fmt.Errorf("%s not installed", bin)
			}
			out := tmpPNG()
			defer os.Remove(out)

			cmd := exec.CommandContext(ctx, bin, append(args, out)...)
			if err := cmd.Run(); err != nil {
				return nil, fmt.Errorf("%s: %w", bin, err)
			}
			return os.ReadFile(out)
		},
	}
}

func powershellStrategy() Strategy {
	const script = `Add-Type -AssemblyName System.Windows.Forms,System.Drawing;` +
		`$b = [System.Windows.Forms.SystemInformation]::VirtualScreen;` +
		`$bmp = New-Object System.Drawing.Bitmap $b.Width,$b.Height;` +
		`$g = [System.Drawing.Graphics]::FromImage($bmp);` +
		`$g.CopyFromScreen($b.Left,$b.Top,0,0,$bmp.Size);` +
		`$bmp.Save($args[0],[System.Drawing.Imaging.ImageFormat]::Png)`
	return Strategy{
		Name: "powershell",
		Grab: func(ctx context.Context) ([]byte, error) {
			out := tmpPNG()
			defer os.Remove(out)
			cmd := exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", script, out)
			if err := cmd.Run(); err != nil {
				return nil, fmt.Errorf("powershell: %w", err)
			}
			return os.ReadFile(out)
		},
	}
}

func tmpPNG() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("snap-%d.png", time.Now().UnixNano()))
}
