// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package experiment

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition names.
const (
	FreeGaze = "FreeGaze"
	Fixated  = "Fixated"
)

const (
	loadingText   = "Loading..."
	getReadyText  = "Get ready..."
	quittingText  = "Quitting..."
	closingText   = "The experiment is now over, please get your experimenter."
	reminderTitle = "Remember:\n\n"
)

func keyLabel(key string) string {
	if len(key) == 1 {
		return `"` + strings.ToUpper(key) + `"`
	}
	return key
}

func setSizeLabel(sizes []int) string {
	if len(sizes) == 1 {
		return strconv.Itoa(sizes[0])
	}
	return "several"
}

// instructionScreens are shown once, before the first condition.
func instructionScreens(sameKey, differentKey, continueKey string, setSizes []int) []string {
	cont := fmt.Sprintf("Press %s to continue.", continueKey)
	return []string{
		"Welcome to the experiment. " + cont,
		"In this experiment you will be remembering colors.\n\n" +
			"Each trial will start with a fixation cross. " +
			fmt.Sprintf("Then, %s squares with different colors will appear. ", setSizeLabel(setSizes)) +
			"Remember as many colors as you can.\n\n" +
			"After a short delay, a square will reappear.\n\n" +
			fmt.Sprintf("If it has the SAME color, press the %s key. ", keyLabel(sameKey)) +
			fmt.Sprintf("If it has a DIFFERENT color, press the %s key.\n", keyLabel(differentKey)) +
			"If you are not sure, just take your best guess.\n\n" +
			"You will get breaks in between blocks.\n\n" +
			cont,
	}
}

func eyeTrackingInstructions(continueKey string) string {
	return "Now we will set up the eye tracker.\n\n" +
		"You will see a series of dots on the screen. Look at the center of each dot " +
		"until it disappears, without moving your head.\n\n" +
		fmt.Sprintf("Press %s to continue.", continueKey)
}

func conditionInstructions(condition, continueKey string) string {
	cont := fmt.Sprintf("Press %s to continue.", continueKey)
	if condition == Fixated {
		return "For these blocks, please keep your eyes on the fixation cross " +
			"from when it appears until you are able to make your response.\n\n" +
			"Try to blink only while making your response.\n\n" + cont
	}
	return "For these blocks, you may move your eyes as you please.\n\n" +
		"Try to blink only while making your response.\n\n" + cont
}

func breakText(done, total int, continueKey string) string {
	return fmt.Sprintf("Take a break. You have finished %d of %d blocks.\n\n"+
		"Press %s to continue.", done, total, continueKey)
}
