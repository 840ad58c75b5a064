package device

import (
	"context"
	"os"
	"os/exec"
	"time"

	logger "github.com/sirupsen/logrus"
)

// CommandRestarter restarts the device by running a command, for example
// "sudo reboot". With no command the process exits and the supervisor is
// expected to start it again.
type CommandRestarter struct {
	Command []string
	Timeout time.Duration

	exit func(int)
}

func (r *CommandRestarter) Restart() error {
	if len(r.Command) == 0 {
		logger.Warn("Restarting process")
		exit := r.exit
		if exit == nil {
			exit = os.Exit
		}
		exit(0)
		return nil
	}

	timeout := r.Timeout
	if timeout == 0 {
		timeout = time.Second * 30
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Warnf("Restarting device [%v]", r.Command)
	out, err := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...).CombinedOutput()
	if err != nil {
		logger.Errorf("Restart command failed [%v] [%s]", err, out)
		return err
	}
	return nil
}
