package main

import (
	"fmt"

	"github.com/nsf/termbox-go"

	"laneracer/client"
)

// 世界坐标尺寸，与服务端默认画面一致
const (
	worldW = 1000.0
	worldH = 700.0
)

var obstacleColors = map[string]termbox.Attribute{
	"car":   termbox.ColorRed,
	"truck": termbox.ColorBlue,
	"bus":   termbox.ColorYellow,
	"bike":  termbox.ColorMagenta,
	"rock":  termbox.ColorWhite,
}

func draw(v client.View, name string) {
	_ = termbox.Clear(termbox.ColorDefault, termbox.ColorDefault)
	w, h := termbox.Size()
	if w < 20 || h < 10 {
		_ = termbox.Flush()
		return
	}
	sx := func(x float64) int { return int(x / worldW * float64(w)) }
	sy := func(y float64) int { return int(y / worldH * float64(h-2)) }

	// 车道分隔线
	for _, x := range []float64{400, 600} {
		for y := 0; y < h-2; y += 2 {
			termbox.SetCell(sx(x), y, '|', termbox.ColorWhite, termbox.ColorDefault)
		}
	}

	for _, o := range v.Obstacles {
		fill(sx(o.X-o.Width/2), sy(o.Y-o.Height/2), sx(o.X+o.Width/2), sy(o.Y+o.Height/2),
			'#', obstacleColors[o.Type])
	}
	for _, p := range v.Players {
		if p.Blinking && (int(v.TimeLeft*10)%2 == 0) {
			continue
		}
		fg := termbox.ColorGreen
		if p.ID == v.PlayerID {
			fg = termbox.ColorCyan | termbox.AttrBold
		}
		fill(sx(p.X-20), sy(p.Y-30), sx(p.X+20), sy(p.Y+30), '@', fg)
		text(sx(p.X-20), sy(p.Y+30)+1, p.Name, fg)
	}

	text(0, 0, fmt.Sprintf("TIME %.1fs  DIFF %.2f", v.TimeLeft, v.Difficulty), termbox.ColorWhite|termbox.AttrBold)
	row := 0
	for _, p := range v.Scoreboard {
		line := fmt.Sprintf("%s: %.0f", p.Name, p.Score)
		if p.Finished {
			line += " (finished)"
		}
		text(w-len(line)-1, row, line, termbox.ColorWhite)
		row++
	}

	status := "arrows: lanes / dodge   q: quit"
	switch {
	case v.Unreachable:
		status = "unable to contact server (no join_ack), still retrying..."
	case !v.Joined:
		status = "connecting to server as " + name + "..."
	case v.Ended:
		status = "FINISH! winner: " + v.Winner
	case !v.Running:
		status = "waiting for round to start..."
	}
	text(0, h-1, status, termbox.ColorYellow)
	_ = termbox.Flush()
}

func fill(x0, y0, x1, y1 int, ch rune, fg termbox.Attribute) {
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			termbox.SetCell(x, y, ch, fg, termbox.ColorDefault)
		}
	}
}

func text(x, y int, s string, fg termbox.Attribute) {
	for i, r := range []rune(s) {
		termbox.SetCell(x+i, y, r, fg, termbox.ColorDefault)
	}
}
