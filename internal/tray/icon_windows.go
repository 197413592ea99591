package tray

func platformIcon(png []byte) []byte { return pngToICO(png) }
